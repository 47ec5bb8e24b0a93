// Package idmap maintains the bidirectional mapping between legacy
// network identifiers and XMPP local-parts within one user's namespace.
//
// The deterministic derivation lowercases the legacy id and
// percent-encodes every byte outside the local-part safe set. XMPP
// local-parts are case-insensitive, so lowercasing is what makes two
// distinct legacy ids able to collide. Every local-part handed out is
// persisted as a claim on the slot: a later id that derives onto an
// occupied slot conflicts and receives a suffixed local-part instead,
// so an existing mapping never changes underneath its owner.
package idmap

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hbruning/xgw/internal/store"
	"go.uber.org/zap"
)

// ErrNotFound is returned by LegacyID for a local-part that is not a
// legacy-mapped entity. Callers fall through to other resolution
// strategies (e.g. treating the address as a group).
var ErrNotFound = errors.New("idmap: not found")

// maxLocalPart caps derived local-parts well below the protocol limit;
// longer derivations are claimed under a truncated base.
const maxLocalPart = 256

// Mapper maps legacy ids to local-parts and back for one user.
type Mapper struct {
	db     *store.DB
	user   string
	logger *zap.Logger

	// mu serializes slot claims so two concurrent derivations of
	// colliding ids cannot both take the same local-part.
	mu sync.Mutex
}

// New creates a mapper scoped to the given user's namespace.
func New(db *store.DB, userBare string, logger *zap.Logger) *Mapper {
	return &Mapper{db: db, user: userBare, logger: logger}
}

// LocalPart derives the stable local-part for a legacy id. The same id
// always yields the same local-part, across calls and restarts.
func (m *Mapper) LocalPart(legacyID string) (string, error) {
	if legacyID == "" {
		return "", fmt.Errorf("empty legacy id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if local, err := m.db.OverrideByLegacy(m.user, legacyID); err == nil {
		return local, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	return m.claim(legacyID, Escape(legacyID))
}

// claim persists the first free local-part for a legacy id, starting
// from its deterministic derivation. Recording the claim is what keeps
// the mapping stable: a colliding id arriving later conflicts on the
// slot's uniqueness constraint and moves on to a suffixed local-part
// instead of remapping the slot's owner. Caller holds m.mu.
func (m *Mapper) claim(legacyID, candidate string) (string, error) {
	base := candidate
	if len(base) > maxLocalPart-8 {
		base = base[:maxLocalPart-8]
	}
	for n := 1; ; n++ {
		local := base
		if n > 1 {
			local = fmt.Sprintf("%s-%d", base, n)
		}
		err := m.db.InsertOverride(m.user, legacyID, local)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return "", err
		}
		if local != candidate {
			m.logger.Warn("local-part collision, suffixed slot claimed",
				zap.String("legacy_id", legacyID),
				zap.String("local_part", local))
		}
		return local, nil
	}
}

// LegacyID resolves a local-part back to its legacy id. Overrides win;
// otherwise the deterministic inverse applies. A local-part that is not
// canonical derivation output yields ErrNotFound.
func (m *Mapper) LegacyID(localPart string) (string, error) {
	if legacyID, err := m.db.OverrideByLocal(m.user, localPart); err == nil {
		return legacyID, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	decoded := Unescape(localPart)
	if decoded == "" || Escape(decoded) != localPart {
		return "", ErrNotFound
	}
	return decoded, nil
}

// safeByte reports whether b passes through the derivation unescaped.
func safeByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '.' || b == '_' || b == '-':
		return true
	}
	return false
}

// Escape lowercases id and percent-encodes every byte outside the
// local-part safe set, including '@', '/', whitespace and '%' itself.
func Escape(id string) string {
	id = strings.ToLower(id)
	var sb strings.Builder
	for i := 0; i < len(id); i++ {
		b := id[i]
		if safeByte(b) {
			sb.WriteByte(b)
			continue
		}
		fmt.Fprintf(&sb, "%%%02x", b)
	}
	return sb.String()
}

// Unescape inverts Escape. It returns "" for input that is not valid
// derivation output (stray '%', bad hex, bytes outside the safe set).
func Unescape(local string) string {
	var sb strings.Builder
	for i := 0; i < len(local); i++ {
		b := local[i]
		if b == '%' {
			if i+2 >= len(local) {
				return ""
			}
			hi, okHi := unhex(local[i+1])
			lo, okLo := unhex(local[i+2])
			if !okHi || !okLo {
				return ""
			}
			sb.WriteByte(hi<<4 | lo)
			i += 2
			continue
		}
		if !safeByte(b) {
			return ""
		}
		sb.WriteByte(b)
	}
	return sb.String()
}

func unhex(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	}
	return 0, false
}
