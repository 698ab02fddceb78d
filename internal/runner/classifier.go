package runner

import (
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// Classifier decides whether an outcome counts as a hit: a valid credential
// for login runs, a protection response for resilience runs.
type Classifier interface {
	Classify(spec ProbeSpec, out ProbeOutcome) bool
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(spec ProbeSpec, out ProbeOutcome) bool

func (f ClassifierFunc) Classify(spec ProbeSpec, out ProbeOutcome) bool {
	return f(spec, out)
}

// LoginClassifier is a heuristic login-success detector. A response counts
// as a success when its status is 2xx/3xx and either it redirects to a
// post-login page, its JSON body carries a token, or its body shows no
// failure indicator or shows a success indicator.
//
// Redirects are judged first: a Location with a success path segment wins,
// then one with a login segment loses. Segments match whole, extension
// stripped, so /oauth/callback is not a login page.
type LoginClassifier struct {
	FailureIndicators []string
	SuccessIndicators []string
	SuccessPaths      []string
	LoginPaths        []string
}

func NewLoginClassifier() *LoginClassifier {
	return &LoginClassifier{
		FailureIndicators: []string{
			"invalid", "incorrect", "failed", "wrong", "try again", "unauthorized",
			"denied", "bad credentials", "not recognized", "does not match",
		},
		SuccessIndicators: []string{
			"welcome", "logout", "log out", "sign out", "signed in as", "my account",
		},
		SuccessPaths: []string{
			"dashboard", "home", "account", "profile", "welcome", "panel",
		},
		LoginPaths: []string{"login", "signin", "sign-in", "auth", "error"},
	}
}

func (c *LoginClassifier) Classify(_ ProbeSpec, out ProbeOutcome) bool {
	if !out.OK || out.StatusCode < 200 || out.StatusCode >= 400 {
		return false
	}

	if verdict, ok := c.locationVerdict(out.Location); ok {
		return verdict
	}

	if verdict, ok := jsonVerdict(out.Body); ok {
		return verdict
	}

	body := strings.ToLower(out.Body)
	return !containsAny(body, c.FailureIndicators) || containsAny(body, c.SuccessIndicators)
}

func (c *LoginClassifier) locationVerdict(loc string) (verdict, ok bool) {
	if loc == "" {
		return false, false
	}
	u, err := url.Parse(loc)
	if err != nil {
		return false, false
	}
	var segs []string
	for _, seg := range strings.Split(strings.ToLower(u.Path), "/") {
		if seg = strings.TrimSuffix(seg, path.Ext(seg)); seg != "" {
			segs = append(segs, seg)
		}
	}
	hasAny := func(set []string) bool {
		return slices.ContainsFunc(segs, func(seg string) bool { return slices.Contains(set, seg) })
	}
	switch {
	case hasAny(c.SuccessPaths):
		return true, true
	case hasAny(c.LoginPaths):
		return false, true
	}
	return false, false
}

// jsonVerdict inspects common API login response shapes. ok is false when
// the body is not JSON or carries none of the known fields.
func jsonVerdict(body string) (verdict, ok bool) {
	if !gjson.Valid(body) {
		return false, false
	}
	res := gjson.GetMany(body, "token", "access_token", "accessToken", "jwt", "data.token")
	for _, r := range res {
		if r.String() != "" {
			return true, true
		}
	}
	if r := gjson.Get(body, "success"); r.Exists() {
		return r.Bool(), true
	}
	if gjson.Get(body, "error").Exists() || gjson.Get(body, "errors").Exists() {
		return false, true
	}
	return false, false
}

// ProtectionClassifier flags responses showing that the target is
// throttling or challenging the client.
type ProtectionClassifier struct {
	Statuses   []int
	Challenges []string
}

func NewProtectionClassifier() *ProtectionClassifier {
	return &ProtectionClassifier{
		Statuses: []int{http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusForbidden},
		Challenges: []string{
			"captcha", "cf-chl", "attention required", "ddos protection",
			"rate limit", "too many requests", "access denied",
		},
	}
}

func (c *ProtectionClassifier) Classify(_ ProbeSpec, out ProbeOutcome) bool {
	if !out.OK {
		return false
	}
	for _, s := range c.Statuses {
		if out.StatusCode == s {
			return true
		}
	}
	if out.Header.Get("Retry-After") != "" {
		return true
	}
	return containsAny(strings.ToLower(out.Body), c.Challenges)
}

// NewClassifier returns the classifier for cfg's mode, or nil for stress runs.
func NewClassifier(cfg Config) Classifier {
	switch cfg.Mode {
	case ModeCredential:
		return NewLoginClassifier()
	case ModeResilience:
		return NewProtectionClassifier()
	}
	return nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
