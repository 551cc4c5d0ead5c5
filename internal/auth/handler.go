package auth

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/visioncare/telehealth/internal/authz"
)

// Handler exposes the auth and admin endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type grantResponse struct {
	Message   string    `json:"message"`
	User      Summary   `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func newGrantResponse(message string, g Grant) grantResponse {
	return grantResponse{Message: message, User: g.User, Token: g.Token.Value, ExpiresAt: g.Token.ExpiresAt}
}

type otpSendResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
	Code      string    `json:"otp,omitempty"`
	Warning   string    `json:"warning,omitempty"`
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return httpError(&ValidationError{Message: "request body must be valid JSON"})
	}
	return nil
}

func principal(c *fiber.Ctx) (authz.Principal, error) {
	p, ok := authz.PrincipalFrom(c)
	if !ok {
		return authz.Principal{}, httpError(authz.ErrUnauthenticated)
	}
	return p, nil
}

// Register creates a patient account.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req RegisterInput
	if err := parseBody(c, &req); err != nil {
		return err
	}
	g, err := h.svc.Register(c.UserContext(), req)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(newGrantResponse("Account created successfully", g))
}

// Login authenticates with email and password.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req LoginInput
	if err := parseBody(c, &req); err != nil {
		return err
	}
	g, err := h.svc.Login(c.UserContext(), req)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(newGrantResponse("Login successful", g))
}

// BiometricVerify authenticates with an enrolled biometric template.
func (h *Handler) BiometricVerify(c *fiber.Ctx) error {
	var req BiometricInput
	if err := parseBody(c, &req); err != nil {
		return err
	}
	g, err := h.svc.BiometricLogin(c.UserContext(), req)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(newGrantResponse("Biometric verification successful", g))
}

// EnableBiometric enrolls a template for the caller. Requires the gate.
func (h *Handler) EnableBiometric(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req BiometricInput
	if err := parseBody(c, &req); err != nil {
		return err
	}
	user, err := h.svc.EnableBiometric(c.UserContext(), p, req)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message": "Biometric authentication enabled successfully",
		"user":    user,
	})
}

// OTPSend issues a passcode to the phone of an existing identity.
func (h *Handler) OTPSend(c *fiber.Ctx) error {
	var req OTPSendInput
	if err := parseBody(c, &req); err != nil {
		return err
	}
	issued, err := h.svc.SendOTP(c.UserContext(), req)
	if err != nil {
		return httpError(err)
	}
	resp := otpSendResponse{Message: "OTP sent successfully", ExpiresAt: issued.ExpiresAt, Code: issued.Code}
	if issued.Warning != nil {
		resp.Warning = "OTP delivery could not be confirmed; request a new code if it does not arrive"
	}
	return c.Status(http.StatusOK).JSON(resp)
}

// OTPVerify authenticates with a passcode.
func (h *Handler) OTPVerify(c *fiber.Ctx) error {
	var req OTPVerifyInput
	if err := parseBody(c, &req); err != nil {
		return err
	}
	g, err := h.svc.VerifyOTP(c.UserContext(), req)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(newGrantResponse("OTP verification successful", g))
}

// Verify returns the caller's summary. Requires the gate.
func (h *Handler) Verify(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	user, err := h.svc.Me(c.UserContext(), p)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"user": user})
}

// Logout always succeeds; the client discards its token.
func (h *Handler) Logout(c *fiber.Ctx) error {
	if err := h.svc.Logout(c.UserContext()); err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "Logged out successfully"})
}

// ListDoctors lists active doctors. Requires the admin policy.
func (h *Handler) ListDoctors(c *fiber.Ctx) error {
	doctors, err := h.svc.ListDoctors(c.UserContext())
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"doctors": doctors})
}

// AddDoctor promotes or creates a doctor. Requires the admin policy.
func (h *Handler) AddDoctor(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req AddDoctorInput
	if err := parseBody(c, &req); err != nil {
		return err
	}
	res, err := h.svc.AddDoctor(c.UserContext(), p, req)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	return c.Status(status).JSON(res)
}

// DeactivateIdentity soft-deletes an identity. Requires the admin policy.
func (h *Handler) DeactivateIdentity(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeactivateIdentity(c.UserContext(), p, c.Params("id")); err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "Identity deactivated"})
}
