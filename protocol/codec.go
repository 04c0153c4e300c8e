package protocol

import "bufio"

// Codec bundles the package functions behind a value, for consumers that take
// the codec as a dependency.
type Codec struct{}

func (Codec) WriteCommand(w *bufio.Writer, cmd Command, args ...[]byte) error {
	return WriteCommand(w, cmd, args...)
}

func (Codec) ReadReply(r *bufio.Reader) (Reply, error) {
	return ReadReply(r)
}

func (Codec) ReadErrorLine(r *bufio.Reader) (string, bool) {
	return ReadErrorLine(r)
}
