package main

import (
	"bufio"
	"fmt"
	"sync"

	"github.com/Tyrowin/livechat/internal/client"
	"github.com/Tyrowin/livechat/internal/protocol"
)

// printer serializes terminal output from the read goroutine and stdin loop.
type printer struct {
	mu  sync.Mutex
	out *bufio.Writer
}

func newPrinter(out *bufio.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
	_ = p.out.Flush()
}

func (p *printer) notification(in protocol.Inbound) {
	n, err := protocol.DecodeNotification(in.Data)
	if err != nil {
		p.printf("! unreadable message: %v\n", err)
		return
	}

	from := n.SenderName
	if from == "" {
		from = fmt.Sprintf("user %d", n.SenderID)
	}
	if n.ChatRoomID != nil {
		p.printf("[#%d] %s: %s\n", *n.ChatRoomID, from, n.Content)
		return
	}
	p.printf("%s: %s\n", from, n.Content)
}

func (p *printer) serverError(in protocol.Inbound) {
	p.printf("! %s\n", in.Message)
}

func (p *printer) state(s client.State) {
	p.printf("* %s\n", s)
}
