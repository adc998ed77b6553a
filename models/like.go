package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// LikeSet is the set of user ids that liked a post or comment. Membership
// is idempotent: toggling twice by the same user restores the original
// state, and a user never appears more than once. The set is kept sorted
// so serialized forms are deterministic.
type LikeSet []string

// Has reports whether userID is a member of the set.
func (s LikeSet) Has(userID string) bool {
	i := sort.SearchStrings(s, userID)
	return i < len(s) && s[i] == userID
}

// Toggle flips membership for userID and reports whether the user likes
// the target after the call.
func (s *LikeSet) Toggle(userID string) bool {
	i := sort.SearchStrings(*s, userID)
	if i < len(*s) && (*s)[i] == userID {
		*s = append((*s)[:i], (*s)[i+1:]...)
		return false
	}
	*s = append(*s, "")
	copy((*s)[i+1:], (*s)[i:])
	(*s)[i] = userID
	return true
}

// Clone returns an independent copy of the set.
func (s LikeSet) Clone() LikeSet {
	if s == nil {
		return nil
	}
	out := make(LikeSet, len(s))
	copy(out, s)
	return out
}

// MarshalJSON renders the set as a JSON array, never null.
func (s LikeSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

// Value serializes the set into a JSON text column.
func (s LikeSet) Value() (driver.Value, error) {
	b, err := s.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan restores the set from its JSON column representation.
func (s *LikeSet) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return s.scanBytes(v)
	case string:
		return s.scanBytes([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into LikeSet", src)
	}
}

func (s *LikeSet) scanBytes(b []byte) error {
	if len(b) == 0 {
		*s = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	sort.Strings(out)
	*s = out
	return nil
}

// StringList is a JSON-array text column used for post tags.
type StringList []string

// MarshalJSON renders the list as a JSON array, never null.
func (l StringList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

// Value serializes the list into a JSON text column.
func (l StringList) Value() (driver.Value, error) {
	b, err := l.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan restores the list from its JSON column representation.
func (l *StringList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		if len(v) == 0 {
			*l = nil
			return nil
		}
		var out []string
		if err := json.Unmarshal(v, &out); err != nil {
			return err
		}
		*l = out
		return nil
	case string:
		return l.Scan([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
}
