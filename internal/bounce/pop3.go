package bounce

import (
	"fmt"
	"strconv"

	"github.com/knadh/go-pop3"
)

// POP3Config locates the mailbox bounced mail is returned to.
type POP3Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`
}

// POP3Source polls a live mailbox. One source represents one mailbox
// session: Messages dials and authenticates, Close issues QUIT, which
// is also what commits the deletions.
type POP3Source struct {
	cfg  POP3Config
	conn *pop3.Conn
}

func NewPOP3Source(cfg POP3Config) *POP3Source {
	return &POP3Source{cfg: cfg}
}

func (s *POP3Source) Messages() ([]Message, error) {
	client := pop3.New(pop3.Opt{
		Host:       s.cfg.Host,
		Port:       s.cfg.Port,
		TLSEnabled: s.cfg.TLS,
	})
	conn, err := client.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mailbox: %w", err)
	}
	if err := conn.Auth(s.cfg.Username, s.cfg.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("mailbox authentication failed: %w", err)
	}
	s.conn = conn

	ids, err := conn.Uidl(0)
	if err != nil {
		return nil, fmt.Errorf("failed to list mailbox: %w", err)
	}

	msgs := make([]Message, 0, len(ids))
	for _, id := range ids {
		msgs = append(msgs, &popMessage{conn: conn, num: id.ID, uid: id.UID})
	}
	return msgs, nil
}

func (s *POP3Source) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Quit()
	s.conn = nil
	return err
}

type popMessage struct {
	conn *pop3.Conn
	num  int
	uid  string
}

func (m *popMessage) ID() string {
	if m.uid != "" {
		return m.uid
	}
	return strconv.Itoa(m.num)
}

func (m *popMessage) Body() (string, error) {
	buf, err := m.conn.RetrRaw(m.num)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve message %d: %w", m.num, err)
	}
	return buf.String(), nil
}

func (m *popMessage) Delete() error {
	return m.conn.Dele(m.num)
}
