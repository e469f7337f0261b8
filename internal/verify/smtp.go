package verify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/protocol-education/school-intel/internal/model"
)

// MXResolver looks up mail exchangers. *net.Resolver satisfies it.
type MXResolver interface {
	LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
}

// Prober checks whether a mailbox plausibly exists without sending mail.
type Prober interface {
	Probe(ctx context.Context, email string) model.Check
}

// DialFunc opens a connection to addr.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// SMTPProber probes mailboxes with an SMTP RCPT TO check against the domain's
// highest-priority mail exchanger.
type SMTPProber struct {
	resolver MXResolver
	dial     DialFunc
	port     int
	helo     string
	from     string
	timeout  time.Duration
	randFunc func() string
}

// SMTPOption configures an SMTPProber.
type SMTPOption func(*SMTPProber)

// WithResolver overrides the MX resolver.
func WithResolver(r MXResolver) SMTPOption {
	return func(p *SMTPProber) { p.resolver = r }
}

// WithDialer overrides how connections to the exchanger are opened.
func WithDialer(d DialFunc) SMTPOption {
	return func(p *SMTPProber) { p.dial = d }
}

// WithPort overrides the SMTP port (default 25).
func WithPort(port int) SMTPOption {
	return func(p *SMTPProber) { p.port = port }
}

// WithTimeout bounds each probe end to end.
func WithTimeout(d time.Duration) SMTPOption {
	return func(p *SMTPProber) { p.timeout = d }
}

// NewSMTPProber creates a prober that identifies itself with helo and uses
// from as the envelope sender.
func NewSMTPProber(helo, from string, opts ...SMTPOption) *SMTPProber {
	d := &net.Dialer{}
	p := &SMTPProber{
		resolver: net.DefaultResolver,
		dial:     d.DialContext,
		port:     25,
		helo:     helo,
		from:     from,
		timeout:  10 * time.Second,
		randFunc: randomLocalPart,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func randomLocalPart() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "probe-" + hex.EncodeToString(b)
}

func check(outcome model.Outcome, evidence string) model.Check {
	return model.Check{Method: model.MethodEmailReachability, Outcome: outcome, Evidence: evidence}
}

// Probe runs the reachability check for email. It never returns an error:
// network trouble and timeouts are unverifiable, explicit rejections are
// failed.
func (p *SMTPProber) Probe(ctx context.Context, email string) model.Check {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return check(model.OutcomeFailed, "malformed address")
	}
	domain := strings.ToLower(email[at+1:])

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	host, implicit, c, ok := p.exchanger(ctx, domain)
	if !ok {
		return c
	}

	c = p.session(ctx, host, email, domain, implicit)
	zap.L().Debug("verify: smtp probe",
		zap.String("email", email),
		zap.String("mx", host),
		zap.Bool("implicit_mx", implicit),
		zap.String("outcome", string(c.Outcome)),
	)
	return c
}

// exchanger picks the host to talk to for domain. With no MX records the
// domain itself is the implicit exchanger (RFC 5321 section 5.1). A null MX
// (RFC 7505) means the domain takes no mail.
func (p *SMTPProber) exchanger(ctx context.Context, domain string) (host string, implicit bool, c model.Check, ok bool) {
	mxs, err := p.resolver.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if !errors.As(err, &dnsErr) || !dnsErr.IsNotFound {
			return "", false, check(model.OutcomeUnverifiable, "mx lookup: "+err.Error()), false
		}
		mxs = nil
	}
	if len(mxs) == 0 {
		return domain, true, model.Check{}, true
	}
	host = strings.TrimSuffix(mxs[0].Host, ".")
	if host == "" {
		return "", false, check(model.OutcomeFailed, "null mx: "+domain+" accepts no mail"), false
	}
	return host, false, model.Check{}, true
}

func (p *SMTPProber) session(ctx context.Context, host, email, domain string, implicit bool) model.Check {
	conn, err := p.dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(p.port)))
	if err != nil {
		var dnsErr *net.DNSError
		if implicit && errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return check(model.OutcomeFailed, "no mail host for "+domain)
		}
		return check(model.OutcomeUnverifiable, "connect: "+err.Error())
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return classify(err, "greeting")
	}
	defer client.Close()

	if err := client.Hello(p.helo); err != nil {
		return classify(err, "helo")
	}
	if err := client.Mail(p.from); err != nil {
		return classify(err, "mail from")
	}
	if err := client.Rcpt(email); err != nil {
		return classify(err, "rcpt")
	}

	// The mailbox was accepted. A server that also accepts a random mailbox
	// accepts everything and tells us nothing.
	if err := client.Rcpt(p.randFunc() + "@" + domain); err == nil {
		_ = client.Quit()
		return check(model.OutcomeUnverifiable, "domain accepts all recipients")
	}
	_ = client.Quit()
	return check(model.OutcomeVerified, "rcpt accepted by "+host)
}

// classify maps SMTP replies and transport errors to outcomes: permanent
// 5xx rejections fail, everything else (4xx greylisting, timeouts, resets)
// is unverifiable.
func classify(err error, stage string) model.Check {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		evidence := fmt.Sprintf("%s: %d %s", stage, tpErr.Code, tpErr.Msg)
		if tpErr.Code >= 500 && stage == "rcpt" {
			return check(model.OutcomeFailed, evidence)
		}
		return check(model.OutcomeUnverifiable, evidence)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return check(model.OutcomeUnverifiable, stage+": timeout")
	}
	return check(model.OutcomeUnverifiable, stage+": "+err.Error())
}
