package chat

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/aicenghub/juleha-gateway/internal/extract"
	"github.com/aicenghub/juleha-gateway/internal/safefetch"
)

// VerifiedLink is one per-URL verification outcome, returned to the client.
type VerifiedLink struct {
	URL          string `json:"url"`
	CanonicalURL string `json:"canonicalUrl"`
	FinalURL     string `json:"finalUrl"`
	OK           bool   `json:"ok"`
	Status       int    `json:"status"`
	ContentType  string `json:"contentType"`
	Title        string `json:"title,omitempty"`
	Note         string `json:"note"`
}

// FetchFunc matches safefetch.Fetch and is injectable for tests.
type FetchFunc func(ctx context.Context, target string, cfg safefetch.Config) (*safefetch.Result, error)

// Verifier runs guarded URL verification behind the per-request outbound
// concurrency gate.
type Verifier struct {
	Fetch FetchFunc
	Sem   *semaphore.Weighted
	Base  safefetch.Config
}

// NewVerifier creates a verifier with a three-slot gate.
func NewVerifier(fetch FetchFunc) *Verifier {
	if fetch == nil {
		fetch = safefetch.Fetch
	}
	return &Verifier{Fetch: fetch, Sem: semaphore.NewWeighted(3)}
}

// fetchGated awaits a gate slot before issuing the request.
func (v *Verifier) fetchGated(ctx context.Context, target string, cfg safefetch.Config) (*safefetch.Result, error) {
	if err := v.Sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer v.Sem.Release(1)
	return v.Fetch(ctx, target, cfg)
}

// Verify checks one URL: HEAD first, then GET on failure, with title
// extraction when the body is HTML.
func (v *Verifier) Verify(ctx context.Context, raw, canonical string) VerifiedLink {
	link := VerifiedLink{URL: raw, CanonicalURL: canonical}

	headCfg := v.Base
	headCfg.Method = http.MethodHead
	res, err := v.fetchGated(ctx, canonical, headCfg)
	if err != nil || !res.OK || res.Status >= 400 {
		getCfg := v.Base
		getCfg.Method = http.MethodGet
		res, err = v.fetchGated(ctx, canonical, getCfg)
	}
	if err != nil {
		link.Note = safefetch.KindOf(err)
		if link.Note == "" {
			link.Note = "fetch-failed"
		}
		return link
	}

	link.OK = res.OK && res.Status < 400
	link.Status = res.Status
	link.FinalURL = res.FinalURL
	link.ContentType = res.ContentType
	if link.OK {
		link.Note = "verified"
	} else {
		link.Note = fmt.Sprintf("http-%d", res.Status)
	}
	if strings.HasPrefix(res.ContentType, "text/html") && res.Body != "" {
		link.Title = extract.FromHTML(res.Body).Title
	}
	return link
}

// VerifyAll verifies each URL in order.
func (v *Verifier) VerifyAll(ctx context.Context, raws, canonicals []string) []VerifiedLink {
	out := make([]VerifiedLink, 0, len(raws))
	for i := range raws {
		out = append(out, v.Verify(ctx, raws[i], canonicals[i]))
	}
	return out
}

// SummarizeChecks formats verification outcomes as a system-message block.
func SummarizeChecks(links []VerifiedLink) string {
	if len(links) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("User URL checks:\n")
	for _, l := range links {
		state := "unreachable"
		if l.OK {
			state = fmt.Sprintf("ok (%d)", l.Status)
		} else if l.Status > 0 {
			state = fmt.Sprintf("failed (%d)", l.Status)
		} else if l.Note != "" {
			state = l.Note
		}
		if l.Title != "" {
			fmt.Fprintf(&b, "- %s — %s — %q\n", l.CanonicalURL, state, l.Title)
		} else {
			fmt.Fprintf(&b, "- %s — %s\n", l.CanonicalURL, state)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
