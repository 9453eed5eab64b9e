package store

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidURL is returned when a connection URL cannot be parsed.
var ErrInvalidURL = errors.New("invalid connection url")

const defaultAddr = "localhost:6379"

var schemes = []struct {
	prefix  string
	tls     bool
	cluster bool
}{
	{"jdbc:redis:cluster://", false, true},
	{"jdbc:redis://", false, false},
	{"redis+cluster://", false, true},
	{"rediss+cluster://", true, true},
	{"rediss://", true, false},
	{"redis://", false, false},
}

// AcceptsURL reports whether raw uses one of the supported schemes.
func AcceptsURL(raw string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(strings.ToLower(raw), s.prefix) {
			return true
		}
	}
	return false
}

// ParseURL parses a connection URL of the form
//
//	scheme://[user[:password]@]host[:port][,host[:port]...][/db][?property=value&...]
//
// Recognized properties are user, password, database, connectionTimeout and
// socketTimeout (milliseconds), clientName, ssl, verifyServerCertificate and
// poolSize. Credentials and database given in the URL itself take precedence
// over properties. Cluster URLs always use database 0.
func ParseURL(raw string) (Options, error) {
	opts := DefaultOptions()

	var rest string
	matched := false
	for _, s := range schemes {
		if strings.HasPrefix(strings.ToLower(raw), s.prefix) {
			rest = raw[len(s.prefix):]
			opts.TLS = s.tls
			opts.Cluster = s.cluster
			matched = true
			break
		}
	}
	if !matched {
		return Options{}, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidURL, raw)
	}

	var query string
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest, query = rest[:i], rest[i+1:]
	}
	if query != "" {
		if err := applyProperties(&opts, query); err != nil {
			return Options{}, err
		}
	}

	if i := strings.LastIndexByte(rest, '@'); i >= 0 {
		if err := applyUserInfo(&opts, rest[:i]); err != nil {
			return Options{}, err
		}
		rest = rest[i+1:]
	}

	hosts := rest
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		hosts = rest[:i]
		if db := strings.Trim(rest[i+1:], "/"); db != "" {
			n, err := strconv.Atoi(db)
			if err != nil || n < 0 {
				return Options{}, fmt.Errorf("%w: database %q is not a non-negative integer", ErrInvalidURL, db)
			}
			opts.DB = n
		}
	}

	opts.Addrs = nil
	for _, h := range strings.Split(hosts, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if !strings.Contains(h, ":") {
			h += ":6379"
		}
		opts.Addrs = append(opts.Addrs, h)
	}
	if len(opts.Addrs) == 0 {
		opts.Addrs = []string{defaultAddr}
	}
	if opts.Cluster {
		opts.DB = 0
	}

	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func applyUserInfo(opts *Options, info string) error {
	user, pass, hasPass := strings.Cut(info, ":")
	var err error
	if user, err = url.PathUnescape(user); err != nil {
		return fmt.Errorf("%w: user: %v", ErrInvalidURL, err)
	}
	if user != "" {
		opts.Username = user
	}
	if hasPass {
		if pass, err = url.PathUnescape(pass); err != nil {
			return fmt.Errorf("%w: password: %v", ErrInvalidURL, err)
		}
		opts.Password = pass
	}
	return nil
}

func applyProperties(opts *Options, query string) error {
	props, err := url.ParseQuery(query)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	for key, vals := range props {
		v := vals[len(vals)-1]
		switch key {
		case "user":
			opts.Username = v
		case "password":
			opts.Password = v
		case "clientName":
			opts.ClientName = v
		case "database":
			if opts.DB, err = atoi(key, v); err != nil {
				return err
			}
		case "poolSize":
			if opts.PoolSize, err = atoi(key, v); err != nil {
				return err
			}
		case "connectionTimeout":
			ms, err := atoi(key, v)
			if err != nil {
				return err
			}
			opts.DialTimeout = time.Duration(ms) * time.Millisecond
		case "socketTimeout":
			ms, err := atoi(key, v)
			if err != nil {
				return err
			}
			opts.ReadTimeout = time.Duration(ms) * time.Millisecond
			opts.WriteTimeout = opts.ReadTimeout
		case "ssl":
			if opts.TLS, err = parseBool(key, v); err != nil {
				return err
			}
		case "verifyServerCertificate":
			verify, err := parseBool(key, v)
			if err != nil {
				return err
			}
			opts.TLSSkipVerify = !verify
		}
	}
	return nil
}

func atoi(key, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s=%q is not a non-negative integer", ErrInvalidURL, key, v)
	}
	return n, nil
}

func parseBool(key, v string) (bool, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidURL, key, v)
	}
	return b, nil
}
