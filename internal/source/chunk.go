// Package source holds helpers shared by the upstream quote sources.
package source

// Chunk splits symbols into consecutive groups of at most size symbols.
func Chunk(symbols []string, size int) [][]string {
	if len(symbols) == 0 || size <= 0 {
		return nil
	}

	groups := make([][]string, 0, (len(symbols)+size-1)/size)
	for start := 0; start < len(symbols); start += size {
		end := min(start+size, len(symbols))
		groups = append(groups, symbols[start:end])
	}
	return groups
}
