//go:build !unix

package memory

// DefaultPageSource returns the page source used when CreateOptions does not name one
func DefaultPageSource() PageSource {
	return NewHeapPageSource()
}
