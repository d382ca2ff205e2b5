// Package zset implements weighted key sets, the algebraic backbone of
// incremental view maintenance. A ZSet maps row keys to signed integer
// multiplicities; base sets carry weight 1 per live record, deltas carry
// arbitrary signed weights.
package zset

import "strings"

// ZSet maps row keys ("table:id") to signed weights. Entries that reach
// weight zero are removed.
type ZSet map[string]int64

// New returns an empty ZSet.
func New() ZSet { return ZSet{} }

// Clone returns a shallow copy.
func (z ZSet) Clone() ZSet {
	out := make(ZSet, len(z))
	for k, w := range z {
		out[k] = w
	}
	return out
}

// Apply folds a signed delta into z, erasing entries whose weight
// reaches zero.
func (z ZSet) Apply(delta ZSet) {
	for k, dw := range delta {
		w := z[k] + dw
		if w == 0 {
			delete(z, k)
		} else {
			z[k] = w
		}
	}
}

// IsMember reports whether key is present with positive weight.
func (z ZSet) IsMember(key string) bool { return z[key] > 0 }

// AddMember inserts key with membership weight 1, regardless of any
// prior weight.
func (z ZSet) AddMember(key string) { z[key] = 1 }

// RemoveMember deletes key.
func (z ZSet) RemoveMember(key string) { delete(z, key) }

// Normalize collapses the set to membership semantics: positive weights
// become 1, everything else is removed.
func (z ZSet) Normalize() {
	for k, w := range z {
		if w > 0 {
			z[k] = 1
		} else {
			delete(z, k)
		}
	}
}

// ApplyMembership folds a signed delta under membership semantics: a key
// whose old weight plus delta is positive survives with weight exactly
// 1, anything else is removed.
func (z ZSet) ApplyMembership(delta ZSet) {
	for k, dw := range delta {
		if z[k]+dw > 0 {
			z[k] = 1
		} else {
			delete(z, k)
		}
	}
}

// MembershipDiff compares z (the current membership) against target and
// returns the delta that moves z to target: +1 for keys entering, -1 for
// keys leaving. Target entries with non-positive weight count as absent.
func (z ZSet) MembershipDiff(target ZSet) ZSet {
	diff := ZSet{}
	for k, w := range target {
		if w > 0 && !z.IsMember(k) {
			diff[k] = 1
		}
	}
	for k := range z {
		if !target.IsMember(k) {
			diff[k] = -1
		}
	}
	return diff
}

// Keys returns the keys in unspecified order.
func (z ZSet) Keys() []string {
	out := make([]string, 0, len(z))
	for k := range z {
		out = append(out, k)
	}
	return out
}

// SplitKey splits a row key at the first colon into table name and id.
// The id portion may itself contain colons.
func SplitKey(key string) (table, id string, ok bool) {
	i := strings.IndexByte(key, ':')
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// Key builds a row key. If id already carries the table prefix it is
// returned unchanged, so callers can pass either bare or qualified ids.
func Key(table, id string) string {
	if strings.HasPrefix(id, table+":") {
		return id
	}
	return table + ":" + id
}
