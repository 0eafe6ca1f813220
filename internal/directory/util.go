package directory

import (
	"sort"

	"cipherkit/internal/domain"
)

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func sortAddresses(a []domain.Address) {
	sort.Slice(a, func(i, j int) bool {
		if a[i].User != a[j].User {
			return a[i].User < a[j].User
		}
		return a[i].Device < a[j].Device
	})
}
