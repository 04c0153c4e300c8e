package protocol

// Command is anything that can render the wire name of a command.
type Command interface {
	Raw() []byte
}

// Cmd is a plain command name.
type Cmd string

// Raw returns the command name as sent on the wire.
func (c Cmd) Raw() []byte {
	return []byte(c)
}

func (c Cmd) String() string {
	return string(c)
}

// Commands used by the connection layer, the CLI and the tests.
// Building typed command APIs on top of these is left to higher layers.
const (
	PING   Cmd = "PING"
	ECHO   Cmd = "ECHO"
	QUIT   Cmd = "QUIT"
	AUTH   Cmd = "AUTH"
	SELECT Cmd = "SELECT"
	CLIENT Cmd = "CLIENT"

	GET    Cmd = "GET"
	SET    Cmd = "SET"
	MGET   Cmd = "MGET"
	MSET   Cmd = "MSET"
	DEL    Cmd = "DEL"
	EXISTS Cmd = "EXISTS"
	INCR   Cmd = "INCR"

	LPUSH  Cmd = "LPUSH"
	LRANGE Cmd = "LRANGE"
	BLPOP  Cmd = "BLPOP"
)
