package live

import "context"

// runSender drains the send queue into the stream. Blocks captured before the
// stream is attached wait in the queue; the goroutine exits on teardown.
func (c *conversation) runSender() {
	defer close(c.senderDone)

	select {
	case <-c.streamReady:
	case <-c.ctx.Done():
		return
	}

	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()

	for {
		select {
		case <-c.ctx.Done():
			return
		case in := <-c.queue:
			if !c.active.Load() {
				return
			}
			if stream == nil {
				c.s.observer.ChunkDropped(DropNoStream)
				continue
			}
			c.send(stream, in)
		}
	}
}

func (c *conversation) send(stream Stream, in RealtimeInput) {
	ctx, cancel := context.WithTimeout(c.ctx, c.s.cfg.SendTimeout)
	defer cancel()
	if err := stream.Send(ctx, in); err != nil {
		c.s.observer.ChunkDropped(DropSendError)
		c.logger.Debug("live send failed; dropping chunk", "error", err)
		return
	}
	c.s.observer.ChunkSent(len(in.Media.Data))
}
