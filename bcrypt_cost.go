//go:build !race

package sitegate

const defaultPasswordHashCost = 12

func passwordHashCost() int {
	return defaultPasswordHashCost
}
