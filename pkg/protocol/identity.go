package protocol

import (
	"os"
	"os/user"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ZentaChain/palladium/pkg/crypto"
	"github.com/ZentaChain/palladium/pkg/errs"
)

// DefaultDomain is used when the environment names no domain.
const DefaultDomain = "WORKGROUP"

const separators = `\@:;`

var identityPattern = regexp.MustCompile(`^([^\\@:;\s]+)\\([^\\@:;\s]+)@([^\\@:;\s]+):([^;\r\n]*);(\S+)$`)

// Identity describes a session endpoint. Domain, name, machine and instance
// id are fixed at construction; a nickname change yields a new Identity.
type Identity struct {
	domain     string
	name       string
	machine    string
	nick       string
	instanceID uuid.UUID
	key        *crypto.Key
}

// NewIdentity validates the fields and builds an identity around key.
func NewIdentity(domain, name, machine, nick string, key *crypto.Key) (*Identity, error) {
	for field, v := range map[string]string{"domain": domain, "name": name, "machine": machine} {
		if strings.TrimSpace(v) == "" {
			return nil, errs.Newf(errs.Argument, "%s is empty", field)
		}
		if strings.ContainsAny(v, separators) || strings.ContainsAny(v, " \t\r\n") {
			return nil, errs.Newf(errs.Argument, "%s %q contains a reserved character", field, v)
		}
	}
	if strings.ContainsAny(nick, ";\r\n") {
		return nil, errs.Newf(errs.Argument, "nick %q contains a reserved character", nick)
	}
	if key == nil {
		return nil, errs.New(errs.Argument, "key is nil")
	}

	return &Identity{
		domain:     domain,
		name:       name,
		machine:    machine,
		nick:       nick,
		instanceID: uuid.New(),
		key:        key,
	}, nil
}

// Current captures the local domain, user and machine with a fresh key.
func Current() (*Identity, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return CurrentWithKey(key)
}

// CurrentWithKey is Current with a caller supplied key.
func CurrentWithKey(key *crypto.Key) (*Identity, error) {
	domain := firstNonEmpty(os.Getenv("USERDOMAIN"), os.Getenv("USERDNSDOMAIN"), DefaultDomain)

	name := firstNonEmpty(os.Getenv("USER"), os.Getenv("USERNAME"), "user")
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	// Windows reports DOMAIN\user.
	if d, n, ok := strings.Cut(name, `\`); ok {
		domain, name = d, n
	}

	machine, err := os.Hostname()
	if err != nil || machine == "" {
		machine = "localhost"
	}

	return NewIdentity(sanitize(domain), sanitize(name), sanitize(machine), "", key)
}

// ParseIdentity parses the canonical string form.
func ParseIdentity(s string) (*Identity, error) {
	m := identityPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, errs.Newf(errs.Format, "malformed identity %q", truncate(s, 64))
	}
	key, err := crypto.PublicKey(m[5])
	if err != nil {
		return nil, errs.Wrap(errs.Format, "malformed identity key", err)
	}
	return &Identity{
		domain:  m[1],
		name:    m[2],
		machine: m[3],
		nick:    m[4],
		key:     key,
	}, nil
}

// TryParseIdentity is ParseIdentity without the error.
func TryParseIdentity(s string) (*Identity, bool) {
	id, err := ParseIdentity(s)
	if err != nil {
		return nil, false
	}
	return id, true
}

func (i *Identity) Domain() string        { return i.domain }
func (i *Identity) Name() string          { return i.name }
func (i *Identity) Machine() string       { return i.machine }
func (i *Identity) Nick() string          { return i.nick }
func (i *Identity) InstanceID() uuid.UUID { return i.instanceID }
func (i *Identity) Key() *crypto.Key      { return i.key }

// Account returns domain\name@machine.
func (i *Identity) Account() string {
	return i.domain + `\` + i.name + "@" + i.machine
}

// DisplayName returns the nickname, or the account when none is set.
func (i *Identity) DisplayName() string {
	if i.nick != "" {
		return i.nick
	}
	return i.Account()
}

// String returns the canonical form domain\name@machine:nick;publicKey.
func (i *Identity) String() string {
	if i == nil {
		return ""
	}
	return i.Account() + ":" + i.nick + ";" + i.key.Public
}

// Equal compares canonical strings.
func (i *Identity) Equal(other *Identity) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.String() == other.String()
}

// SameEndpoint reports whether other is this identity under a possibly
// different nickname.
func (i *Identity) SameEndpoint(other *Identity) bool {
	if i == nil || other == nil {
		return false
	}
	return i.Account() == other.Account() && i.key.Equal(other.key)
}

// WithNick returns a copy carrying nick. The key is shared.
func (i *Identity) WithNick(nick string) (*Identity, error) {
	if strings.ContainsAny(nick, ";\r\n") {
		return nil, errs.Newf(errs.Argument, "nick %q contains a reserved character", nick)
	}
	c := *i
	c.nick = nick
	return &c, nil
}

// Public returns a copy whose key cannot decrypt.
func (i *Identity) Public() *Identity {
	c := *i
	c.key = i.key.PublicOnly()
	return &c
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(separators, r) || r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			return '_'
		}
		return r
	}, s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Resolve finds the user addressed by query: a canonical address, or an
// account or nickname matching exactly one entry.
func Resolve(users []*Identity, query string) (*Identity, error) {
	for _, u := range users {
		if u.String() == query {
			return u, nil
		}
	}

	var match *Identity
	for _, u := range users {
		if u.Account() != query && u.nick != query {
			continue
		}
		if match != nil {
			return nil, errs.Newf(errs.Argument, "%q matches more than one user", query)
		}
		match = u
	}
	if match == nil {
		return nil, errs.Newf(errs.Argument, "no user matches %q", query)
	}
	return match, nil
}
