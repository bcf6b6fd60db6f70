package dao

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Validate checks the shape of a DAO before creation.
func (d DAO) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: dao id is required", ErrInvalidArgument)
	}
	for i, m := range d.Members {
		if m == "" {
			return fmt.Errorf("%w: member %d is empty", ErrInvalidArgument, i)
		}
	}
	return nil
}

// Normalized returns d with NFC-normalized name and description.
func (d DAO) Normalized() DAO {
	out := d.Clone()
	out.Name = norm.NFC.String(out.Name)
	out.Description = norm.NFC.String(out.Description)
	return out
}

// Clone returns a deep copy of d.
func (d DAO) Clone() DAO {
	out := d
	if d.Members != nil {
		out.Members = append(make([]ID, 0, len(d.Members)), d.Members...)
	}
	return out
}

// Apply returns d patched with u. Each present field replaces the current
// value in full; member lists and thresholds are never merged.
func (d DAO) Apply(u Update) DAO {
	out := d.Clone()
	if u.Name != nil {
		out.Name = norm.NFC.String(*u.Name)
	}
	if u.Description != nil {
		out.Description = norm.NFC.String(*u.Description)
	}
	if u.Members != nil {
		out.Members = append(make([]ID, 0, len(*u.Members)), (*u.Members)...)
	}
	if u.Thresholds != nil {
		out.Thresholds = *u.Thresholds
	}
	return out
}

// Validate checks that the patch does not introduce empty member ids.
func (u Update) Validate() error {
	if u.Members == nil {
		return nil
	}
	for i, m := range *u.Members {
		if m == "" {
			return fmt.Errorf("%w: new member %d is empty", ErrInvalidArgument, i)
		}
	}
	return nil
}

// WithMember appends m. Duplicates are kept.
func (d DAO) WithMember(m ID) DAO {
	out := d.Clone()
	out.Members = append(out.Members, m)
	return out
}

// WithoutMember removes the first occurrence of m. The second result is
// false, and d is returned unchanged, when m is not a member.
func (d DAO) WithoutMember(m ID) (DAO, bool) {
	i := d.indexOf(m)
	if i < 0 {
		return d, false
	}
	out := d.Clone()
	out.Members = append(out.Members[:i], out.Members[i+1:]...)
	return out, true
}

// ReplaceMember swaps the first occurrence of old for replacement.
func (d DAO) ReplaceMember(old, replacement ID) (DAO, bool) {
	i := d.indexOf(old)
	if i < 0 {
		return d, false
	}
	out := d.Clone()
	out.Members[i] = replacement
	return out, true
}

// IsMember reports whether id appears in the member list.
func (d DAO) IsMember(id ID) bool {
	return d.indexOf(id) >= 0
}

// Weight is the number of times id appears in the member list.
func (d DAO) Weight(id ID) uint64 {
	var n uint64
	for _, m := range d.Members {
		if m == id {
			n++
		}
	}
	return n
}

func (d DAO) indexOf(id ID) int {
	for i, m := range d.Members {
		if m == id {
			return i
		}
	}
	return -1
}
