// Package placeref derives stable place identifiers.
//
// Upstream sources (generated suggestions, manual entry) hand out a fresh
// ephemeral id every time they mention a place. Rooms key votes and the keep
// list by place, so every mention of the same logical place inside one room
// must resolve to one id. The id is a name-based UUID (version 5) over the
// canonical natural key, in a namespace derived from the room id, which keeps
// ids of different rooms apart.
package placeref

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"tripvote/pkg/domain"
)

// rootNamespace is the namespace all room namespaces are derived from.
var rootNamespace = uuid.MustParse("6f1c8a52-3f0e-4d8e-9a55-2d6f3b0c9e71")

const keySeparator = "\x1f"

// Raw is a place reference as supplied by an upstream source.
type Raw struct {
	ID       string
	Name     string
	Address  string
	Category string
	Lat      float64
	Lng      float64
	Source   domain.PlaceSource
}

// ErrUnresolvable is returned when a raw reference carries neither a stable
// id nor a natural key.
var ErrUnresolvable = errors.New("place reference has no stable id or name")

// IsStable reports whether id already is a stable identifier.
func IsStable(id string) bool {
	_, err := uuid.Parse(strings.TrimSpace(id))
	return err == nil && strings.TrimSpace(id) != ""
}

// Normalize returns the stable id for raw within roomID.
func Normalize(roomID string, raw Raw) (string, error) {
	if id := strings.TrimSpace(raw.ID); id != "" {
		if parsed, err := uuid.Parse(id); err == nil {
			return parsed.String(), nil
		}
	}
	name := Canonical(raw.Name)
	if name == "" {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidSubject, ErrUnresolvable)
	}
	key := name + keySeparator + Canonical(raw.Address)
	return uuid.NewSHA1(roomNamespace(roomID), []byte(key)).String(), nil
}

// NaturalKeyID is Normalize for a bare name/address pair.
func NaturalKeyID(roomID, name, address string) (string, error) {
	return Normalize(roomID, Raw{Name: name, Address: address})
}

func roomNamespace(roomID string) uuid.UUID {
	return uuid.NewSHA1(rootNamespace, []byte(strings.TrimSpace(roomID)))
}

// Canonical lower-cases, trims and collapses inner whitespace.
func Canonical(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), unicode.IsSpace)
	return strings.Join(fields, " ")
}

// PlaceStore is the subset of the store the normalizer persists through.
type PlaceStore interface {
	InsertPlaceIfAbsent(ctx context.Context, p domain.PlaceRef) (domain.PlaceRef, bool, error)
	GetPlace(ctx context.Context, roomID, id string) (domain.PlaceRef, bool, error)
}

// Ensure normalizes raw and lazily creates the PlaceRef. A raw reference that
// is only a stable id must resolve to an existing place.
func Ensure(ctx context.Context, places PlaceStore, roomID string, raw Raw) (domain.PlaceRef, error) {
	id, err := Normalize(roomID, raw)
	if err != nil {
		return domain.PlaceRef{}, err
	}
	if strings.TrimSpace(raw.Name) == "" {
		existing, ok, err := places.GetPlace(ctx, roomID, id)
		if err != nil {
			return domain.PlaceRef{}, fmt.Errorf("load place: %w", err)
		}
		if !ok {
			return domain.PlaceRef{}, fmt.Errorf("%w: unknown place %s", domain.ErrInvalidSubject, id)
		}
		return existing, nil
	}
	source := raw.Source
	if source == "" {
		source = domain.PlaceFromManual
	}
	place, _, err := places.InsertPlaceIfAbsent(ctx, domain.PlaceRef{
		ID:       id,
		RoomID:   roomID,
		Name:     strings.TrimSpace(raw.Name),
		Category: strings.TrimSpace(raw.Category),
		Address:  strings.TrimSpace(raw.Address),
		Lat:      raw.Lat,
		Lng:      raw.Lng,
		Source:   source,
	})
	if err != nil {
		return domain.PlaceRef{}, fmt.Errorf("save place: %w", err)
	}
	return place, nil
}
