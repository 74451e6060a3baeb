package j1939

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aldas/go-j1939-client/internal/syncutil"
)

// RecordWriter is the default MessageSink. It writes one newline terminated
// record per message to w:
//
//	{"pgn":"0ef20","sender":48,"size":21,"data":"48656C6C6F"}
//	{"pgn":"0ef00","sender":48,"size":"SF","data":"010203"}
//
// PGN is five lowercase hex digits, sender is two uppercase hex digits
// (unquoted), data bytes are uppercase hex without separators. Single frames
// report "SF" instead of a byte count. The format matches what downstream
// consumers of this stack already parse and is kept as is.
type RecordWriter struct {
	mu syncutil.Mutex
	w  io.Writer
}

func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: w}
}

func (r *RecordWriter) OnMessage(msg Message) {
	size := strconv.Itoa(int(msg.Size))
	if msg.SingleFrame {
		size = `"SF"`
	}
	line := fmt.Sprintf("{\"pgn\":\"%05x\",\"sender\":%02X,\"size\":%s,\"data\":\"%s\"}\n",
		msg.PGN, msg.Sender, size, strings.ToUpper(hex.EncodeToString(msg.Data)))

	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = io.WriteString(r.w, line)
}
