// Package mention extracts mention targets from a message body.
//
// Everything here is pure: the caller resolves handles to user IDs (one
// batched lookup) and passes the result in, so resolution can be tested
// without a store.
package mention

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Everyone is the handle that targets every room member.
const Everyone = "all"

// A handle is letters, digits, marks, underscores, dots and hyphens in any
// script (Go's \w is ASCII only). The '@' must start the body or follow a
// character that cannot be part of a handle, which keeps e-mail addresses
// like a@b.com from matching.
var handlePattern = regexp.MustCompile(`(?:^|[^\p{L}\p{M}\p{N}_.@-])@([\p{L}\p{M}\p{N}_.-]+)`)

// Set is a set of user IDs.
type Set map[uuid.UUID]struct{}

func (s Set) Has(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

// Slice returns the members of s in no particular order.
func (s Set) Slice() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// Parsed is the syntactic result of scanning a body.
type Parsed struct {
	Everyone bool
	// Handles are lowercased, deduplicated and in first-seen order. They
	// never include Everyone.
	Handles []string
}

// Parse scans body for mention tokens. Trailing dots and hyphens are treated
// as punctuation ("thanks @sam." mentions "sam"). A bare "@" is ignored.
func Parse(body string) Parsed {
	var p Parsed
	seen := make(map[string]bool)
	for _, m := range handlePattern.FindAllStringSubmatch(body, -1) {
		h := strings.ToLower(strings.TrimRight(m[1], ".-"))
		if h == "" {
			continue
		}
		if h == Everyone {
			p.Everyone = true
			continue
		}
		if !seen[h] {
			seen[h] = true
			p.Handles = append(p.Handles, h)
		}
	}
	return p
}

// Resolve returns the members mentioned in body.
//
// If body contains @all the result is every member except sender. Otherwise
// each handle is looked up in directory (lowercase username -> user ID) and
// kept only if that user is a member. Unknown handles and non-members are
// dropped silently. The sender is never in the result. An empty result means
// an ordinary message.
func Resolve(body string, sender uuid.UUID, memberIDs []uuid.UUID, directory map[string]uuid.UUID) Set {
	return ResolveParsed(Parse(body), sender, memberIDs, directory)
}

// ResolveParsed is Resolve for a body that has already been parsed.
func ResolveParsed(p Parsed, sender uuid.UUID, memberIDs []uuid.UUID, directory map[string]uuid.UUID) Set {
	members := make(Set, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = struct{}{}
	}

	out := make(Set)
	if p.Everyone {
		for id := range members {
			if id != sender {
				out[id] = struct{}{}
			}
		}
		return out
	}

	for _, h := range p.Handles {
		id, ok := directory[h]
		if !ok || id == sender || !members.Has(id) {
			continue
		}
		out[id] = struct{}{}
	}
	return out
}
