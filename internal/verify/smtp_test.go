package verify

import (
	"context"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocol-education/school-intel/internal/model"
)

type fakeResolver struct {
	mxs []*net.MX
	err error
}

func (f fakeResolver) LookupMX(context.Context, string) ([]*net.MX, error) {
	return f.mxs, f.err
}

// startMTA runs a scripted SMTP server. rcpt decides the reply to each RCPT
// TO address.
func startMTA(t *testing.T, rcpt func(addr string) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveMTA(conn, rcpt)
		}
	}()
	return ln.Addr().String()
}

func serveMTA(conn net.Conn, rcpt func(string) string) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 mx.test ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			_ = tp.PrintfLine("250 mx.test")
		case strings.HasPrefix(upper, "MAIL FROM"):
			_ = tp.PrintfLine("250 OK")
		case strings.HasPrefix(upper, "RCPT TO:"):
			addr := strings.Trim(line[len("RCPT TO:"):], "<> ")
			_ = tp.PrintfLine("%s", rcpt(addr))
		case strings.HasPrefix(upper, "QUIT"):
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("250 OK")
		}
	}
}

func newTestProber(addr string, opts ...SMTPOption) *SMTPProber {
	base := []SMTPOption{
		WithResolver(fakeResolver{mxs: []*net.MX{{Host: "mx.oakfield.sch.uk.", Pref: 10}}}),
		WithDialer(func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		}),
		WithTimeout(2 * time.Second),
	}
	p := NewSMTPProber("probe.test", "verify@probe.test", append(base, opts...)...)
	p.randFunc = func() string { return "probe-random" }
	return p
}

func TestProbe_Verified(t *testing.T) {
	t.Parallel()
	addr := startMTA(t, func(a string) string {
		if a == "j.doe@oakfield.sch.uk" {
			return "250 OK"
		}
		return "550 5.1.1 no such user"
	})

	c := newTestProber(addr).Probe(context.Background(), "j.doe@oakfield.sch.uk")
	assert.Equal(t, model.MethodEmailReachability, c.Method)
	assert.Equal(t, model.OutcomeVerified, c.Outcome)
	assert.Contains(t, c.Evidence, "mx.oakfield.sch.uk")
}

func TestProbe_RejectedIsFailed(t *testing.T) {
	t.Parallel()
	addr := startMTA(t, func(string) string { return "550 5.1.1 no such user" })

	c := newTestProber(addr).Probe(context.Background(), "ghost@oakfield.sch.uk")
	assert.Equal(t, model.OutcomeFailed, c.Outcome)
	assert.Contains(t, c.Evidence, "550")
}

func TestProbe_AcceptAllIsUnverifiable(t *testing.T) {
	t.Parallel()
	addr := startMTA(t, func(string) string { return "250 OK" })

	c := newTestProber(addr).Probe(context.Background(), "anyone@oakfield.sch.uk")
	assert.Equal(t, model.OutcomeUnverifiable, c.Outcome)
	assert.Contains(t, c.Evidence, "accepts all")
}

func TestProbe_GreylistIsUnverifiable(t *testing.T) {
	t.Parallel()
	addr := startMTA(t, func(string) string { return "450 4.7.1 try again later" })

	c := newTestProber(addr).Probe(context.Background(), "j.doe@oakfield.sch.uk")
	assert.Equal(t, model.OutcomeUnverifiable, c.Outcome)
	assert.Contains(t, c.Evidence, "450")
}

func TestProbe_TimeoutIsUnverifiable(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		// Accept and never greet.
		conn, err := ln.Accept()
		if err == nil {
			time.Sleep(2 * time.Second)
			conn.Close()
		}
	}()

	p := newTestProber(ln.Addr().String(), WithTimeout(100*time.Millisecond))
	c := p.Probe(context.Background(), "j.doe@oakfield.sch.uk")
	assert.Equal(t, model.OutcomeUnverifiable, c.Outcome)
}

func TestReachability_NoMXUsesDomainAsExchanger(t *testing.T) {
	t.Parallel()
	addr := startMTA(t, func(a string) string {
		if a == "office@oakfield.sch.uk" {
			return "250 OK"
		}
		return "550 5.1.1 no such user"
	})

	var dialed string
	p := newTestProber(addr,
		WithResolver(fakeResolver{err: &net.DNSError{Err: "no such host", Name: "oakfield.sch.uk", IsNotFound: true}}),
		WithDialer(func(ctx context.Context, network, target string) (net.Conn, error) {
			dialed = target
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		}))

	c := p.Probe(context.Background(), "office@oakfield.sch.uk")
	assert.Equal(t, model.OutcomeVerified, c.Outcome)
	assert.Equal(t, "oakfield.sch.uk:25", dialed)
}

func TestReachability_EmptyMXListUsesDomainAsExchanger(t *testing.T) {
	t.Parallel()
	var dialed string
	p := NewSMTPProber("verify.test", "v@verify.test",
		WithResolver(fakeResolver{}),
		WithDialer(func(_ context.Context, _, target string) (net.Conn, error) {
			dialed = target
			return nil, &net.OpError{Op: "dial", Err: assert.AnError}
		}))

	c := p.Probe(context.Background(), "a@oakfield.sch.uk")
	assert.Equal(t, model.OutcomeUnverifiable, c.Outcome)
	assert.Equal(t, "oakfield.sch.uk:25", dialed)
}

func TestReachability_UnresolvableDomainIsFailed(t *testing.T) {
	t.Parallel()
	notFound := &net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}
	p := NewSMTPProber("verify.test", "v@verify.test",
		WithResolver(fakeResolver{err: notFound}),
		WithDialer(func(context.Context, string, string) (net.Conn, error) {
			return nil, &net.OpError{Op: "dial", Net: "tcp", Err: notFound}
		}))

	c := p.Probe(context.Background(), "a@nowhere.invalid")
	assert.Equal(t, model.OutcomeFailed, c.Outcome)
	assert.Contains(t, c.Evidence, "nowhere.invalid")
}

func TestReachability_NullMXIsFailed(t *testing.T) {
	t.Parallel()
	p := NewSMTPProber("verify.test", "v@verify.test",
		WithResolver(fakeResolver{mxs: []*net.MX{{Host: ".", Pref: 0}}}),
		WithDialer(func(context.Context, string, string) (net.Conn, error) {
			t.Error("null mx domain should not be dialed")
			return nil, assert.AnError
		}))

	c := p.Probe(context.Background(), "a@nomail.sch.uk")
	assert.Equal(t, model.OutcomeFailed, c.Outcome)
	assert.Contains(t, c.Evidence, "null mx")
}

func TestProbe_DNSTimeoutIsUnverifiable(t *testing.T) {
	t.Parallel()
	p := NewSMTPProber("probe.test", "v@probe.test",
		WithResolver(fakeResolver{err: &net.DNSError{Err: "i/o timeout", Name: "slow.test", IsTimeout: true}}))

	c := p.Probe(context.Background(), "a@slow.test")
	assert.Equal(t, model.OutcomeUnverifiable, c.Outcome)
}

func TestProbe_ConnectRefusedIsUnverifiable(t *testing.T) {
	t.Parallel()
	p := NewSMTPProber("probe.test", "v@probe.test",
		WithResolver(fakeResolver{mxs: []*net.MX{{Host: "mx.test."}}}),
		WithDialer(func(context.Context, string, string) (net.Conn, error) {
			return nil, &net.OpError{Op: "dial", Err: assert.AnError}
		}))

	c := p.Probe(context.Background(), "a@test.sch.uk")
	assert.Equal(t, model.OutcomeUnverifiable, c.Outcome)
}

func TestProbe_MalformedAddress(t *testing.T) {
	t.Parallel()
	p := NewSMTPProber("probe.test", "v@probe.test")

	for _, addr := range []string{"", "no-at-sign", "@domain.only", "user@"} {
		assert.Equal(t, model.OutcomeFailed, p.Probe(context.Background(), addr).Outcome, addr)
	}
}
