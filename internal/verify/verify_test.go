package verify

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unibot/internal/otp"
	"unibot/internal/storage"
	"unibot/internal/transport/transporttest"
)

const (
	guild = int64(900)
	alice = int64(11)
	bob   = int64(12)
)

type outbox struct {
	mu   sync.Mutex
	fail error
	sent []string // bodies
	to   []string
}

func (o *outbox) Send(_ context.Context, to, subject, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	if subject != MailSubject {
		return errors.Newf("unexpected subject %q", subject)
	}
	o.to = append(o.to, to)
	o.sent = append(o.sent, body)
	return nil
}

var codeRe = regexp.MustCompile(`password is: ([A-Za-z0-9]+)$`)

func (o *outbox) lastCode(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent)
	m := codeRe.FindStringSubmatch(o.sent[len(o.sent)-1])
	require.Len(t, m, 2)
	return m[1]
}

type fixture struct {
	svc   *Service
	clk   clockwork.FakeClock
	store *storage.Memory
	mail  *outbox
	ad    *transporttest.Adapter
}

func newFixture(t *testing.T, roles ...int64) *fixture {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	f := &fixture{clk: clk, store: storage.NewMemory(), mail: &outbox{}, ad: &transporttest.Adapter{}}
	svc, err := New(Config{EmailSuffix: "@student.uni.edu", RoleIDs: roles}, f.store,
		otp.New(otp.WithClock(clk)), f.mail, WithClock(clk), WithRoles(f.ad))
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestNewRequiresSuffix(t *testing.T) {
	t.Parallel()
	_, err := New(Config{}, storage.NewMemory(), otp.New(), &outbox{})
	require.Error(t, err)
}

func TestFullFlowGrantsRoles(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 5, 6)
	ctx := context.Background()

	reply, err := f.svc.SetEmail(ctx, alice, "20231234@student.uni.edu")
	require.NoError(t, err)
	assert.Equal(t, "Email Set!", reply)

	reply, err = f.svc.SendCode(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "An otp code has been sent to your email!\nMake sure to check your junk folder!", reply)
	assert.Equal(t, []string{"20231234@student.uni.edu"}, f.mail.to)
	code := f.mail.lastCode(t)
	assert.Len(t, code, otp.DefaultLength)

	reply, err = f.svc.Redeem(ctx, guild, alice, code)
	require.NoError(t, err)
	assert.Equal(t, "You are now verified!", reply)

	v, ok, err := f.store.GetVerification(ctx, alice)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "20231234@student.uni.edu", v.Email)
	assert.Equal(t, []transporttest.Grant{{GuildID: guild, UserID: alice, Roles: []int64{5, 6}}}, f.ad.Grants())

	reply, err = f.svc.Status(ctx, guild, alice, "!")
	require.NoError(t, err)
	assert.Equal(t, "Your account is already verified", reply)
}

func TestSetEmailRejects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for _, bad := range []string{"abc@student.uni.edu", "123@student-uni.edu", "123@student.uni.edu.evil", "123@other.edu", ""} {
		_, err := f.svc.SetEmail(ctx, alice, bad)
		require.EqualError(t, err, "Invalid Email!", bad)
	}

	require.NoError(t, f.store.PutVerification(ctx, storage.Verification{UserID: bob, Email: "42@student.uni.edu"}))
	_, err := f.svc.SetEmail(ctx, alice, "42@student.uni.edu")
	require.EqualError(t, err, "This email has already been used to verify another party!")
}

func TestSendCodeNeedsEmailAndReusesLiveCode(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendCode(ctx, alice)
	require.EqualError(t, err, "You need to set an email!")

	_, err = f.svc.SetEmail(ctx, alice, "1@student.uni.edu")
	require.NoError(t, err)
	_, err = f.svc.SendCode(ctx, alice)
	require.NoError(t, err)

	f.clk.Advance(time.Minute)
	reply, err := f.svc.SendCode(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "OTP was already sent and expires in 4 minutes", reply)
	assert.Len(t, f.mail.sent, 1)
}

func TestSendCodeMailFailureAllowsRetry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SetEmail(ctx, alice, "1@student.uni.edu")
	require.NoError(t, err)

	f.mail.fail = errors.New("535 auth failed")
	_, err = f.svc.SendCode(ctx, alice)
	require.EqualError(t, err, "The email service seems to be down!\nTry again later.")

	f.mail.fail = nil
	reply, err := f.svc.SendCode(ctx, alice)
	require.NoError(t, err)
	assert.Contains(t, reply, "has been sent")
}

func TestRedeemRejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Redeem(ctx, guild, alice, "abcdefghi")
	require.EqualError(t, err, "You need to set an email!")

	_, err = f.svc.SetEmail(ctx, alice, "1@student.uni.edu")
	require.NoError(t, err)

	_, err = f.svc.Redeem(ctx, guild, alice, "abcdefghi")
	require.EqualError(t, err, "OTP code has expired")

	_, err = f.svc.SendCode(ctx, alice)
	require.NoError(t, err)
	code := f.mail.lastCode(t)

	_, err = f.svc.Redeem(ctx, guild, alice, code[:8])
	require.EqualError(t, err, "Invalid OTP!")

	wrong := []byte(code)
	if wrong[0] == 'a' {
		wrong[0] = 'b'
	} else {
		wrong[0] = 'a'
	}
	_, err = f.svc.Redeem(ctx, guild, alice, string(wrong))
	require.EqualError(t, err, "Invalid OTP!")

	f.clk.Advance(otp.DefaultTTL)
	_, err = f.svc.Redeem(ctx, guild, alice, code)
	require.EqualError(t, err, "OTP code has expired")
}

func TestRedeemEmailClaimedMeanwhile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetEmail(ctx, alice, "7@student.uni.edu")
	require.NoError(t, err)
	_, err = f.svc.SendCode(ctx, alice)
	require.NoError(t, err)
	require.NoError(t, f.store.PutVerification(ctx, storage.Verification{UserID: bob, Email: "7@student.uni.edu"}))

	_, err = f.svc.Redeem(ctx, guild, alice, f.mail.lastCode(t))
	require.EqualError(t, err, "This email has already been used to verify another party!")
}

func TestRequestWindowLapses(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetEmail(ctx, alice, "1@student.uni.edu")
	require.NoError(t, err)
	f.clk.Advance(DefaultRequestWindow)

	_, err = f.svc.SendCode(ctx, alice)
	require.EqualError(t, err, "You need to set an email!")

	_, err = f.svc.SetEmail(ctx, bob, "2@student.uni.edu")
	require.NoError(t, err)
	f.clk.Advance(DefaultRequestWindow)
	require.NoError(t, f.svc.SweepJob(ctx))
	f.svc.mu.Lock()
	assert.Empty(t, f.svc.pending)
	f.svc.mu.Unlock()
}

func TestStatusRestoresMissingRoles(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 5)
	ctx := context.Background()
	require.NoError(t, f.store.PutVerification(ctx, storage.Verification{UserID: alice, Email: "1@student.uni.edu"}))

	reply, err := f.svc.Status(ctx, guild, alice, "!")
	require.NoError(t, err)
	assert.Equal(t, "Your account now has the verified role!", reply)

	reply, err = f.svc.Status(ctx, guild, alice, "!")
	require.NoError(t, err)
	assert.Equal(t, "Your account is already verified", reply)

	reply, err = f.svc.Status(ctx, guild, bob, "!")
	require.NoError(t, err)
	assert.Contains(t, reply, "!verify email <address>")
}
