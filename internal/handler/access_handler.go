package handler

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"access-service/internal/device"
	"access-service/internal/models"
	"access-service/internal/policy"
	"access-service/internal/service"
	"access-service/internal/util"
)

const (
	// multipartOverhead is the slack allowed on top of the audio size limit
	// for form fields and part headers.
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20
)

// AccessHandler exposes the access gateway and its collaborators over HTTP.
type AccessHandler struct {
	services *service.ServiceFactory
	validate *validator.Validate
	logger   *zap.Logger
}

func NewAccessHandler(services *service.ServiceFactory, logger *zap.Logger) *AccessHandler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &AccessHandler{
		services: services,
		validate: v,
		logger:   logger,
	}
}

type accessResponse struct {
	Response
	Allowed           bool           `json:"allowed"`
	RequiresChallenge bool           `json:"requiresChallenge,omitempty"`
	Channel           device.Channel `json:"channel,omitempty"`
}

type limitResponse struct {
	Response
	CanPost   bool  `json:"canPost"`
	Remaining int   `json:"remaining"`
	Consumed  *bool `json:"consumed,omitempty"`
}

type resetCheckResponse struct {
	Response
	RequestedToday bool `json:"requestedToday"`
}

type notificationResponse struct {
	Response
	NotificationsEnabled bool `json:"notificationsEnabled"`
}

type orderResponse struct {
	Response
	*models.Order
}

// RegisterRoutes registers every access route on router.
func (h *AccessHandler) RegisterRoutes(router chi.Router) {
	router.Post("/send-otp", h.SendOTP)
	router.Post("/verify-otp", h.VerifyOTP)
	router.Post("/access/evaluate", h.Evaluate)

	router.Route("/forgot-password", func(r chi.Router) {
		r.Post("/check", h.CheckReset)
		r.Post("/record", h.RecordReset)
	})
	router.Post("/reset-password", h.ResetPassword)

	router.Post("/post-audio", h.PostAudio)

	router.Get("/plans", h.ListPlans)
	router.Get("/subscription", h.GetSubscription)
	router.Post("/subscription", h.SetSubscription)
	router.Get("/check-tweet-limit", h.CheckPostLimit)
	router.Post("/increment-tweet-count", h.IncrementPostCount)

	router.Post("/create-order", h.CreateOrder)
	router.Post("/verify-payment", h.VerifyPayment)

	router.Post("/record-login", h.RecordLogin)
	router.Get("/login-history", h.LoginHistory)

	router.Get("/notification-settings/{email}", h.GetNotificationSettings)
	router.Patch("/notification-settings/{email}", h.UpdateNotificationSettings)
	router.Post("/keyword-alerts/{email}", h.KeywordAlerts)

	router.Get("/languages", h.ListLanguages)
	router.Post("/language-change", h.ChangeLanguage)
}

func emailParam(r *http.Request) string {
	raw := chi.URLParam(r, "email")
	if email, err := url.PathUnescape(raw); err == nil {
		return email
	}
	return raw
}

// clientIP is the caller's address after middleware.RealIP has run.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type sendOTPRequest struct {
	Email   string `json:"email" validate:"required_without=Phone,omitempty,email"`
	Phone   string `json:"phone" validate:"required_without=Email"`
	Purpose string `json:"purpose" validate:"required"`
}

type otpDelivery struct {
	Channel   device.Channel `json:"channel"`
	ExpiresIn int            `json:"expiresIn"`
}

// SendOTP issues a one-time code. The code travels only through the
// notifier, never in the response.
func (h *AccessHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err, "Invalid request body")
		return
	}
	purpose, ok := models.ParsePurpose(req.Purpose)
	if !ok {
		h.respondWithError(w, service.ErrInvalidInput, "Invalid purpose")
		return
	}
	identifier := req.Email
	if identifier == "" {
		identifier = req.Phone
	}

	challenges := h.services.Challenges()
	if _, err := challenges.Issue(r.Context(), identifier, purpose); err != nil {
		h.respondWithError(w, err, "Failed to send OTP")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(otpDelivery{
		Channel:   service.ChannelFor(identifier),
		ExpiresIn: int(challenges.ExpiresIn().Seconds()),
	}, "OTP sent successfully"))
}

type verifyOTPRequest struct {
	Email   string `json:"email" validate:"required_without=Phone,omitempty,email"`
	Phone   string `json:"phone" validate:"required_without=Email"`
	Purpose string `json:"purpose" validate:"required"`
	OTP     string `json:"otp" validate:"required"`
}

func (h *AccessHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err, "Invalid request body")
		return
	}
	purpose, ok := models.ParsePurpose(req.Purpose)
	if !ok {
		h.respondWithError(w, service.ErrInvalidInput, "Invalid purpose")
		return
	}
	identifier := req.Email
	if identifier == "" {
		identifier = req.Phone
	}
	if err := h.services.Challenges().Require(r.Context(), identifier, purpose, req.OTP); err != nil {
		h.respondWithError(w, err, "Verification failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]bool{"verified": true}, "OTP verified"))
}

type evaluateRequest struct {
	Action     string      `json:"action" validate:"required"`
	Email      string      `json:"email" validate:"omitempty,email"`
	Phone      string      `json:"phone"`
	Identifier string      `json:"identifier"`
	Type       string      `json:"type" validate:"omitempty,oneof=email phone"`
	Device     device.Info `json:"device"`
	Language   string      `json:"language"`
	Issue      bool        `json:"issue"`
}

// Evaluate answers whether an action may proceed now and which challenge
// it needs. A denial is a 403 carrying the verdict.
func (h *AccessHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err, "Invalid request body")
		return
	}

	verdict, err := h.services.Gateway().Evaluate(r.Context(), &service.AccessRequest{
		Action:         policy.Action(req.Action),
		AccountID:      req.Email,
		Phone:          req.Phone,
		Identifier:     req.Identifier,
		IdentifierType: models.IdentifierType(req.Type),
		Device:         req.Device,
		TargetLocale:   req.Language,
		IssueChallenge: req.Issue,
	})
	if err != nil {
		h.respondWithError(w, err, "Failed to evaluate access")
		return
	}

	resp := accessResponse{
		Response:          Response{Success: verdict.Allowed, Data: verdict},
		Allowed:           verdict.Allowed,
		RequiresChallenge: verdict.RequiresChallenge,
		Channel:           verdict.Channel,
	}
	if !verdict.Allowed {
		resp.Error = verdict.Reason
		h.respondWithJSON(w, http.StatusForbidden, resp)
		return
	}
	h.respondWithJSON(w, http.StatusOK, resp)
}

type resetIdentifierRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Type       string `json:"type" validate:"required,oneof=email phone"`
}

func (h *AccessHandler) CheckReset(w http.ResponseWriter, r *http.Request) {
	var req resetIdentifierRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err, "Invalid request body")
		return
	}
	requested, err := h.services.Resets().RequestedToday(r.Context(), req.Identifier, models.IdentifierType(req.Type))
	if err != nil {
		h.respondWithError(w, err, "Failed to check reset status")
		return
	}
	h.respondWithJSON(w, http.StatusOK, resetCheckResponse{
		Response:       Response{Success: true},
		RequestedToday: requested,
	})
}

func (h *AccessHandler) RecordReset(w http.ResponseWriter, r *http.Request) {
	var req resetIdentifierRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err, "Invalid request body")
		return
	}
	if err := h.services.Resets().RecordResetRequest(r.Context(), req.Identifier, models.IdentifierType(req.Type)); err != nil {
		h.respondWithError(w, err, "Failed to record reset request")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Reset request recorded"))
}

type resetPasswordRequest struct {
	Identifier  string `json:"identifier" validate:"required"`
	Type        string `json:"type" validate:"required,oneof=email phone"`
	NewPassword string `json:"newPassword" validate:"required"`
	OTP         string `json:"otp" validate:"required"`
}

func (h *AccessHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err, "Invalid request body")
		return
	}
	err := h.services.Resets().ResetPassword(r.Context(), req.Identifier, models.IdentifierType(req.Type), req.NewPassword, req.OTP)
	if err != nil {
		h.respondWithError(w, err, "Failed to reset password")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Password reset successfully"))
}

// PostAudio takes a multipart form with fields email, otp and duration and
// the file part "audio". The upload window is checked before the body is
// read.
func (h *AccessHandler) PostAudio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()
	gateway := h.services.Gateway()

	if err := gateway.CheckWindow(ctx, r.URL.Query().Get("email"), policy.ActionAudioUpload); err != nil {
		h.respondWithError(w, err, "Audio upload rejected")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, models.MaxAudioSizeBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondWithError(w, invalidInput("Audio file must be 100MB or less"), "Audio upload rejected")
			return
		}
		h.respondWithError(w, invalidInput("malformed multipart body"), "Invalid request body")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Warn("Failed to remove multipart temp files", util.ErrorField(err))
		}
	}()

	file, header, err := r.FormFile("audio")
	if err != nil {
		h.respondWithError(w, invalidInput("audio file is required"), "Invalid request body")
		return
	}
	defer file.Close()

	duration, err := strconv.ParseFloat(r.FormValue("duration"), 64)
	if err != nil {
		h.respondWithError(w, invalidInput("duration must be a number of seconds"), "Invalid request body")
		return
	}

	post, err := gateway.PostAudio(ctx, &service.AudioUpload{
		Email:           r.FormValue("email"),
		Code:            r.FormValue("otp"),
		DurationSeconds: duration,
		SizeBytes:       header.Size,
		ContentType:     header.Header.Get("Content-Type"),
		Body:            file,
	})
	if err != nil {
		h.respondWithError(w, err, "Failed to post audio")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(post, "Audio posted successfully"))
	h.logger.Info("Audio post created via HTTP",
		util.String("post_id", post.PostID.String()),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "PostAudio"),
	)
}

func (h *AccessHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, successResponse(models.TierCatalog(), ""))
}

type subscriptionView struct {
	models.Entitlement
	Subscription *models.Subscription `json:"subscription,omitempty"`
}

func (h *AccessHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	entitlement, sub, err := h.services.Entitlements().GetEntitlement(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		h.respondWithError(w, err, "Failed to fetch subscription")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(subscriptionView{
		Entitlement:  entitlement,
		Subscription: sub,
	}, ""))
}

type setSubscriptionRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Plan      string `json:"plan" validate:"required"`
	Allowance *int   `json:"tweetsPerMonth"`
	Price     *int64 `json:"price"`
}

// SetSubscription activates the free plan. Paid plans are only activated
// by a verified payment.
func (h *AccessHandler) SetSubscription(w http.ResponseWriter, r *http.Request) {
	var req setSubscriptionRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err, "Invalid request body")
		return
	}
	spec, err := service.ResolveTier(req.Plan, req.Allowance, req.Price)
	if err != nil {
		h.respondWithError(w, err, "Invalid plan")
		return
	}
	if spec.Price > 0 {
		h.respondWithError(w, invalidInput("plan %s requires payment", spec.Tier), "Invalid plan")
		return
	}

	sub, err := h.services.Entitlements().Activate(r.Context(), &service.ActivateRequest{
		AccountID: req.Email,
		Tier:      string(spec.Tier),
	})
	if err != nil {
		h.respondWithError(w, err, "Failed to update subscription")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(sub, "Subscription updated"))
}

func (h *AccessHandler) CheckPostLimit(w http.ResponseWriter, r *http.Request) {
	entitlement, _, err := h.services.Entitlements().GetEntitlement(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		h.respondWithError(w, err, "Failed to check post limit")
		return
	}
	h.respondWithJSON(w, http.StatusOK, limitResponse{
		Response:  Response{Success: true, Data: entitlement},
		CanPost:   entitlement.CanPost,
		Remaining: entitlement.Remaining,
	})
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// IncrementPostCount consumes one unit of allowance, or answers 429 when
// none is left.
func (h *AccessHandler) IncrementPostCount(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err, "Invalid request body")
		return
	}
	result, err := h.services.Entitlements().RecordUsage(r.Context(), req.Email)
	if err != nil {
		h.respondWithError(w, err, "Failed to increment post count")
		return
	}

	resp := limitResponse{
		Response:  Response{Success: result.Consumed, Data: result.Entitlement},
		CanPost:   result.Entitlement.CanPost,
		Remaining: result.Entitlement.Remaining,
		Consumed:  &result.Consumed,
	}
	if !result.Consumed {
		resp.Error = service.ErrQuotaExceeded.Error()
		h.respondWithJSON(w, http.StatusTooManyRequests, resp)
		return
	}
	h.respondWithJSON(w, http.StatusOK, resp)
}

type createOrderRequest struct {
	Amount   int64  `json:"amount" validate:"required,gt=0"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
	Receipt  string `json:"receipt"`
	Email    string `json:"email" validate:"required,email"`
	PlanID   string `json:"planId"`
}

func (h *AccessHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err, "Invalid request body")
		return
	}
	order, err := h.services.Payments().CreateOrder(r.Context(), &service.CreateOrderRequest{
		AccountID: req.Email,
		Tier:      req.PlanID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Receipt:   req.Receipt,
	})
	if err != nil {
		h.respondWithError(w, err, "Failed to create order")
		return
	}
	h.respondWithJSON(w, http.StatusOK, orderResponse{
		Response: Response{Success: true},
		Order:    order,
	})
}

// verifyPaymentRequest keeps the processor's callback field names.
type verifyPaymentRequest struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required,hexadecimal"`
	Email     string `json:"email" validate:"required,email"`
	Plan      string `json:"plan" validate:"required"`
	Allowance *int   `json:"tweetsPerMonth"`
	Price     *int64 `json:"price"`
}

func (h *AccessHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	var req verifyPaymentRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err, "Invalid request body")
		return
	}
	sub, err := h.services.Payments().VerifyPayment(r.Context(), &service.VerifyPaymentRequest{
		OrderRef:   req.OrderID,
		PaymentRef: req.PaymentID,
		Signature:  req.Signature,
		AccountID:  req.Email,
		Tier:       req.Plan,
		Allowance:  req.Allowance,
		Price:      req.Price,
	})
	if err != nil {
		h.respondWithError(w, err, "Payment verification failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(sub, "Payment verified and subscription activated"))
	h.logger.Info("Payment verified via HTTP",
		util.String("order_id", req.OrderID),
		util.String("plan", string(sub.Tier)),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "VerifyPayment"),
	)
}

type recordLoginRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp"`
	device.Info
}

// RecordLogin admits a login or explains why not: 403 with allowed=false
// for the mobile window, 401 when a code is needed or wrong.
func (h *AccessHandler) RecordLogin(w http.ResponseWriter, r *http.Request) {
	var req recordLoginRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err, "Invalid request body")
		return
	}
	info := req.Info
	if info.SourceAddress == "" {
		info.SourceAddress = clientIP(r)
	}

	admission, err := h.services.Gateway().AdmitLogin(r.Context(), &service.LoginRequest{
		Email:  req.Email,
		Device: info,
		Code:   req.OTP,
	})
	var policyErr *service.PolicyError
	var challengeErr *service.ChallengeRequiredError
	switch {
	case err == nil:
		h.respondWithJSON(w, http.StatusOK, accessResponse{
			Response: successResponse(admission, "Login recorded"),
			Allowed:  true,
		})
	case errors.As(err, &policyErr):
		h.respondWithJSON(w, http.StatusForbidden, accessResponse{
			Response: errorResponse(err, "Login rejected"),
		})
	case errors.As(err, &challengeErr):
		h.respondWithJSON(w, http.StatusUnauthorized, accessResponse{
			Response:          errorResponse(err, "Verification code required"),
			RequiresChallenge: true,
			Channel:           challengeErr.Channel,
		})
	default:
		h.respondWithError(w, err, "Failed to record login")
	}
}

func (h *AccessHandler) LoginHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.services.Logins().ListLogins(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		h.respondWithError(w, err, "Failed to fetch login history")
		return
	}
	if records == nil {
		records = []*models.LoginRecord{}
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(records, ""))
}

func (h *AccessHandler) GetNotificationSettings(w http.ResponseWriter, r *http.Request) {
	enabled, err := h.services.Preferences().NotificationsEnabled(r.Context(), emailParam(r))
	if err != nil {
		h.respondWithError(w, err, "Failed to fetch notification settings")
		return
	}
	h.respondWithJSON(w, http.StatusOK, notificationResponse{
		Response:             Response{Success: true},
		NotificationsEnabled: enabled,
	})
}

type notificationSettingsRequest struct {
	NotificationsEnabled *bool `json:"notificationsEnabled" validate:"required"`
}

func (h *AccessHandler) UpdateNotificationSettings(w http.ResponseWriter, r *http.Request) {
	var req notificationSettingsRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err, "Invalid request body")
		return
	}
	enabled := *req.NotificationsEnabled
	if err := h.services.Preferences().SetNotificationsEnabled(r.Context(), emailParam(r), enabled); err != nil {
		h.respondWithError(w, err, "Failed to update notification settings")
		return
	}
	h.respondWithJSON(w, http.StatusOK, notificationResponse{
		Response:             Response{Success: true},
		NotificationsEnabled: enabled,
	})
}

type keywordAlertsRequest struct {
	Posts []models.AlertPost `json:"posts" validate:"dive"`
}

func (h *AccessHandler) KeywordAlerts(w http.ResponseWriter, r *http.Request) {
	var req keywordAlertsRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err, "Invalid request body")
		return
	}
	alerts, err := h.services.Preferences().KeywordAlerts(r.Context(), emailParam(r), req.Posts)
	if err != nil {
		h.respondWithError(w, err, "Failed to evaluate keyword alerts")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(alerts, ""))
}

func (h *AccessHandler) ListLanguages(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, successResponse(device.Locales(), ""))
}

type languageChangeRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone"`
	Language string `json:"language" validate:"required"`
	OTP      string `json:"otp"`
}

// ChangeLanguage answers 202 when a code was sent and 200 once the new
// language is stored.
func (h *AccessHandler) ChangeLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageChangeRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err, "Invalid request body")
		return
	}
	result, err := h.services.Gateway().ChangeLanguage(r.Context(), &service.LanguageChangeRequest{
		Email:  req.Email,
		Phone:  req.Phone,
		Locale: req.Language,
		Code:   req.OTP,
	})
	if err != nil {
		h.respondWithError(w, err, "Failed to change language")
		return
	}
	if !result.Changed {
		h.respondWithJSON(w, http.StatusAccepted, successResponse(result, "OTP sent via "+string(result.Channel)))
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Language updated"))
}
