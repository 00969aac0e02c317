package domain

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidDestination is returned by ParseDestination for values that are
// neither an ntfy topic, an http(s) URL nor an SNS topic ARN.
var ErrInvalidDestination = errors.New("invalid destination")

type DestinationKind string

const (
	DestinationNtfyTopic DestinationKind = "ntfy_topic"
	DestinationURL       DestinationKind = "url"
	DestinationSNS       DestinationKind = "sns"
)

var topicPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Destination is a validated channel target. The zero value, and any value
// produced from a malformed string, reports IsValid() == false but keeps the
// raw text so delivery failures can name it.
type Destination struct {
	kind DestinationKind
	raw  string
}

// ParseDestination classifies and validates a raw destination string.
// On error the returned Destination is invalid but still carries raw.
func ParseDestination(raw string) (Destination, error) {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return Destination{raw: raw}, fmt.Errorf("%w: empty", ErrInvalidDestination)
	case strings.HasPrefix(s, "arn:"):
		if err := validateSNSArn(s); err != nil {
			return Destination{raw: raw}, err
		}
		return Destination{kind: DestinationSNS, raw: s}, nil
	case strings.Contains(s, "://"):
		if err := validateTopicURL(s); err != nil {
			return Destination{raw: raw}, err
		}
		return Destination{kind: DestinationURL, raw: s}, nil
	case topicPattern.MatchString(s):
		return Destination{kind: DestinationNtfyTopic, raw: s}, nil
	default:
		return Destination{raw: raw}, fmt.Errorf("%w: %q is not a topic, URL or SNS ARN", ErrInvalidDestination, raw)
	}
}

// MustParseDestination panics if raw is not a valid destination.
func MustParseDestination(raw string) Destination {
	d, err := ParseDestination(raw)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Destination) Kind() DestinationKind { return d.kind }

func (d Destination) String() string { return d.raw }

func (d Destination) IsValid() bool { return d.kind != "" }

func validateTopicURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidDestination)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidDestination)
	}
	if strings.Trim(u.Path, "/") == "" {
		return fmt.Errorf("%w: topic path is required", ErrInvalidDestination)
	}
	return nil
}

// validateSNSArn accepts arn:<partition>:sns:<region>:<account>:<topic>.
func validateSNSArn(s string) error {
	parts := strings.Split(s, ":")
	if len(parts) != 6 || !strings.HasPrefix(parts[1], "aws") || parts[2] != "sns" {
		return fmt.Errorf("%w: %q is not an SNS topic ARN", ErrInvalidDestination, s)
	}
	for _, p := range parts[3:] {
		if p == "" {
			return fmt.Errorf("%w: %q is not an SNS topic ARN", ErrInvalidDestination, s)
		}
	}
	return nil
}
