package notifier

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/anchieta/coresched/pkg/log"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Kind identifies one of the seven message shapes the scheduler and
// reservation manager dispatch.
type Kind string

const (
	ReservationBooked    Kind = "reservation-booked"
	ReservationCancelled Kind = "reservation-cancelled"
	ReservationFirstDay  Kind = "reservation-first-day"
	ReservationLastDay   Kind = "reservation-last-day"
	JobStarted           Kind = "job-started"
	JobFinished          Kind = "job-finished"
	JobFailed            Kind = "job-failed"
)

var subjects = map[Kind]string{
	ReservationBooked:    "Reservation confirmed",
	ReservationCancelled: "Reservation cancelled",
	ReservationFirstDay:  "Reservation starts today",
	ReservationLastDay:   "Reservation ends today",
	JobStarted:           "Job started",
	JobFinished:          "Job finished",
	JobFailed:            "Job failed",
}

// Config is the email-config document: a key-value document
// with at least address and password.
type Config struct {
	SMTPAddr string `yaml:"smtp_addr"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
}

// LoadConfig reads the YAML email-config document at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("notifier: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("notifier: parse config: %w", err)
	}
	if cfg.Address == "" || cfg.Password == "" {
		return Config{}, fmt.Errorf("notifier: config missing address or password")
	}
	return cfg, nil
}

// Sender is the capability a Notifier dispatches through; production code
// uses smtpSender, tests substitute a fake so no network dial is needed.
type Sender interface {
	Send(from string, to []string, msg []byte) error
}

// Notifier formats and dispatches per-event emails. Delivery success is
// reported back so callers can flip an idempotency flag only on success.
type Notifier struct {
	cfg Config
	snd Sender
}

// New returns a Notifier that delivers over SMTP with STARTTLS.
func New(cfg Config) *Notifier {
	return &Notifier{cfg: cfg, snd: &smtpSender{cfg: cfg}}
}

// NewWithSender returns a Notifier dispatching through an arbitrary
// Sender -- used by callers' tests to avoid a real SMTP dial.
func NewWithSender(cfg Config, snd Sender) *Notifier {
	return &Notifier{cfg: cfg, snd: snd}
}

// Send formats a message of the given kind and dispatches it to to.
// fields is rendered as a table sorted by key; observation, if
// non-empty, is appended as a free-text block. It returns whether delivery
// succeeded -- false means the caller must leave its idempotency flag at N.
func (n *Notifier) Send(kind Kind, to string, fields map[string]string, observation string) bool {
	if to == "" {
		return false
	}

	msgID := uuid.New().String()
	body := render(kind, fields, observation)
	msg := buildMessage(n.cfg.Address, to, msgID, subjects[kind], body)

	if err := n.snd.Send(n.cfg.Address, []string{to}, msg); err != nil {
		log.Logger.Warn().Err(err).Str("to", to).Str("kind", string(kind)).Msg("email delivery failed")
		return false
	}
	return true
}

func render(kind Kind, fields map[string]string, observation string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "coresched notification: %s\n\n", subjects[kind])

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %-20s %s\n", k+":", fields[k])
	}

	if observation != "" {
		fmt.Fprintf(&b, "\nObservation:\n%s\n", observation)
	}

	fmt.Fprintf(&b, "\n--\nThis is an automated message from coresched.\n")
	return b.String()
}

func buildMessage(from, to, msgID, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Message-Id: <%s@coresched>\r\n", msgID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.Bytes()
}

// smtpSender is the production sender, delivering over STARTTLS with
// github.com/emersion/go-smtp's client.
type smtpSender struct {
	cfg Config
}

func (s *smtpSender) Send(from string, to []string, msg []byte) error {
	addr := s.cfg.SMTPAddr
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	c, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer c.Close()

	if err := c.Hello("coresched"); err != nil {
		return fmt.Errorf("hello: %w", err)
	}

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	auth := sasl.NewPlainClient("", s.cfg.Address, s.cfg.Password)
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("mail: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := wc.Write(msg); err != nil {
		wc.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return c.Quit()
}
