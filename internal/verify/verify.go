// Package verify proves that a chat member owns a university mailbox.
//
// A member sets an address, asks for a one-time code to be mailed to it, and redeems
// the code. Redeemed addresses are stored and the configured roles are granted.
package verify

import (
	"context"
	"crypto/subtle"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"

	"unibot/internal/commands"
	"unibot/internal/mail"
	"unibot/internal/otp"
	"unibot/internal/storage"
	kit "unibot/internal/transport"
	logx "unibot/pkg/logx"
)

const (
	DefaultRequestWindow = 15 * time.Minute

	MailSubject = "Discord Verification"
)

// Replies shown to the member.
const (
	msgInvalidEmail    = "Invalid Email!"
	msgEmailTaken      = "This email has already been used to verify another party!"
	msgEmailSet        = "Email Set!"
	msgNeedEmail       = "You need to set an email!"
	msgCodeSent        = "An otp code has been sent to your email!\nMake sure to check your junk folder!"
	msgMailDown        = "The email service seems to be down!\nTry again later."
	msgInvalidCode     = "Invalid OTP!"
	msgCodeExpired     = "OTP code has expired"
	msgVerified        = "You are now verified!"
	msgAlreadyVerified = "Your account is already verified"
)

type Config struct {
	// EmailSuffix is the mail domain accepted after "<digits>@".
	EmailSuffix   string
	RoleIDs       []int64
	RequestWindow time.Duration
	// GuildID receives the roles when a command arrives outside a server.
	GuildID int64
}

type Option func(*Service)

func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }
func WithLogger(l logx.Logger) Option    { return func(s *Service) { s.log = l } }
func WithRoles(g kit.RoleGranter) Option { return func(s *Service) { s.roles = g } }

type request struct {
	email   string
	expires time.Time
}

type Service struct {
	cfg   Config
	re    *regexp.Regexp
	store storage.VerificationStore
	codes *otp.Cache
	mail  mail.Sender
	roles kit.RoleGranter
	clock clockwork.Clock
	log   logx.Logger

	mu      sync.Mutex
	pending map[int64]request
}

func New(cfg Config, store storage.VerificationStore, codes *otp.Cache, sender mail.Sender, opts ...Option) (*Service, error) {
	suffix := strings.TrimPrefix(strings.TrimSpace(cfg.EmailSuffix), "@")
	if suffix == "" {
		return nil, errors.New("verify: email suffix is required")
	}
	if cfg.RequestWindow <= 0 {
		cfg.RequestWindow = DefaultRequestWindow
	}
	s := &Service{
		cfg:     cfg,
		re:      regexp.MustCompile(`^\d+@` + regexp.QuoteMeta(suffix) + `$`),
		store:   store,
		codes:   codes,
		mail:    sender,
		clock:   clockwork.NewRealClock(),
		log:     logx.Nop(),
		pending: map[int64]request{},
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("comp", "verify"))
	return s, nil
}

// Status answers a bare "verify": already verified members get their roles back,
// everyone else gets the steps.
func (s *Service) Status(ctx context.Context, guildID, userID int64, prefix string) (string, error) {
	guildID = s.guild(guildID)
	_, found, err := s.store.GetVerification(ctx, userID)
	if err != nil {
		return "", errors.Wrap(err, "lookup verification")
	}
	if !found {
		return "Verify your account as a genuine student:\n" +
			"1. " + prefix + "verify email <address>\n" +
			"2. " + prefix + "verify send\n" +
			"3. " + prefix + "verify code <code>", nil
	}
	if len(s.cfg.RoleIDs) == 0 || s.roles == nil || guildID == 0 {
		return msgAlreadyVerified, nil
	}
	has, err := s.roles.HasRoles(ctx, guildID, userID, s.cfg.RoleIDs)
	if err != nil {
		return "", errors.Wrap(err, "check roles")
	}
	if has {
		return msgAlreadyVerified, nil
	}
	if err := s.roles.GrantRoles(ctx, guildID, userID, s.cfg.RoleIDs); err != nil {
		return "", errors.Wrap(err, "grant roles")
	}
	if len(s.cfg.RoleIDs) == 1 {
		return "Your account now has the verified role!", nil
	}
	return "Your account now has the verified roles!", nil
}

// SetEmail records the address a code will be mailed to. The request lapses after the
// request window.
func (s *Service) SetEmail(ctx context.Context, userID int64, email string) (string, error) {
	email = strings.TrimSpace(email)
	if !s.re.MatchString(email) {
		return "", commands.Fail(msgInvalidEmail)
	}
	used, err := s.store.EmailInUse(ctx, email)
	if err != nil {
		return "", errors.Wrap(err, "check email")
	}
	if used {
		return "", commands.Fail(msgEmailTaken)
	}

	s.mu.Lock()
	s.pending[userID] = request{email: email, expires: s.clock.Now().Add(s.cfg.RequestWindow)}
	s.mu.Unlock()
	return msgEmailSet, nil
}

// SendCode mails a fresh code to the pending address. A live code is never replaced.
func (s *Service) SendCode(ctx context.Context, userID int64) (string, error) {
	req, ok := s.pendingFor(userID)
	if !ok {
		return "", commands.Fail(msgNeedEmail)
	}
	if cur, live := s.codes.Get(userID); live {
		rel := strings.TrimSpace(humanize.RelTime(s.clock.Now(), cur.ExpiresAt, "", ""))
		return "OTP was already sent and expires in " + rel, nil
	}

	code, _ := s.codes.Generate(userID)
	body := "Hello,\n\nYour one time password is: " + code.Value
	if err := s.mail.Send(ctx, req.email, MailSubject, body); err != nil {
		s.codes.Forget(userID)
		s.log.Error("verification mail failed", logx.Int64("user_id", userID), logx.Err(err))
		return "", commands.Fail(msgMailDown)
	}
	s.log.Info("verification code sent", logx.Int64("user_id", userID))
	return msgCodeSent, nil
}

// Redeem checks the submitted code, stores the verification and grants roles.
func (s *Service) Redeem(ctx context.Context, guildID, userID int64, submitted string) (string, error) {
	guildID = s.guild(guildID)
	req, ok := s.pendingFor(userID)
	if !ok {
		return "", commands.Fail(msgNeedEmail)
	}
	submitted = strings.TrimSpace(submitted)
	if len(submitted) != s.codes.Length() {
		return "", commands.Fail(msgInvalidCode)
	}
	code, live := s.codes.Get(userID)
	if !live {
		return "", commands.Fail(msgCodeExpired)
	}
	if subtle.ConstantTimeCompare([]byte(code.Value), []byte(submitted)) != 1 {
		return "", commands.Fail(msgInvalidCode)
	}

	err := s.store.PutVerification(ctx, storage.Verification{
		UserID:     userID,
		Email:      req.email,
		VerifiedAt: s.clock.Now().UTC(),
	})
	if errors.Is(err, storage.ErrEmailTaken) {
		return "", commands.Fail(msgEmailTaken)
	}
	if err != nil {
		return "", errors.Wrap(err, "store verification")
	}
	s.codes.Forget(userID)
	s.mu.Lock()
	delete(s.pending, userID)
	s.mu.Unlock()

	if len(s.cfg.RoleIDs) > 0 && s.roles != nil && guildID != 0 {
		if err := s.roles.GrantRoles(ctx, guildID, userID, s.cfg.RoleIDs); err != nil {
			s.log.Warn("grant roles failed", logx.Int64("user_id", userID), logx.Err(err))
		}
	}
	s.log.Info("member verified", logx.Int64("user_id", userID))
	return msgVerified, nil
}

func (s *Service) pendingFor(userID int64) (request, bool) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.pending[userID]
	if !ok {
		return request{}, false
	}
	if !now.Before(req.expires) {
		delete(s.pending, userID)
		return request{}, false
	}
	return req, true
}

// SweepJob drops lapsed email requests.
func (s *Service) SweepJob(context.Context) error {
	now := s.clock.Now()
	s.mu.Lock()
	n := 0
	for id, req := range s.pending {
		if !now.Before(req.expires) {
			delete(s.pending, id)
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.log.Debug("lapsed verification requests dropped", logx.Int("removed", n))
	}
	return nil
}

func (s *Service) guild(id int64) int64 {
	if id == 0 {
		return s.cfg.GuildID
	}
	return id
}
