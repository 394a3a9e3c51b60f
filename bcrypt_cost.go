//go:build !race

package brix

func passwordHashCost() int {
	return 14
}
