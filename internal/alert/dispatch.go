package alert

import (
	"context"

	"github.com/pulsewatch/internal/models"
	"github.com/pulsewatch/internal/notify"
)

// collectChannels snapshots the enabled channels when there is something
// to deliver. Caller holds m.mu.
func (m *Manager) collectChannels(out *outbox) {
	if len(out.deliveries) == 0 {
		return
	}
	for _, e := range m.channels {
		if e.channel.Enabled {
			out.channels = append(out.channels, e)
		}
	}
}

// release queues out behind the batches of earlier calls and unlocks m.mu.
// The caller that finds the queue idle drains it, so events reach
// subscribers in the order the state changes were made under m.mu. A
// handler that calls back into the manager only queues its batch; it is
// published after the current one. Caller holds m.mu.
func (m *Manager) release(out *outbox) {
	if len(out.events) == 0 && len(out.deliveries) == 0 {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, out)
	if m.flushing {
		m.mu.Unlock()
		return
	}
	m.flushing = true
	for len(m.queue) > 0 {
		next := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.flush(next)

		m.mu.Lock()
	}
	m.flushing = false
	m.mu.Unlock()
}

// flush publishes the collected events, then hands every delivery to every
// channel. Console output is synchronous; remote channels are delivered in
// their own goroutine with NotifyTimeout and report back through events.
func (m *Manager) flush(out *outbox) {
	for _, e := range out.events {
		m.bus.Publish(e)
	}

	for _, a := range out.deliveries {
		for _, ch := range out.channels {
			if ch.channel.Type == models.ChannelConsole {
				m.deliver(ch, a)
				continue
			}
			go m.deliver(ch, a)
		}
	}
}

func (m *Manager) deliver(ch channelEntry, a models.Alert) {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.NotifyTimeout)
	defer cancel()

	err := ch.notifier.Notify(ctx, a)

	m.mu.Lock()
	destroyed := m.destroyed
	m.mu.Unlock()
	if destroyed {
		return
	}

	now := m.now()
	if err != nil {
		derr := &notify.DeliveryError{Channel: ch.channel.Name, Type: ch.channel.Type, Err: err}
		m.logger.Error().Err(derr).Str("alert_id", a.ID).Msg("Failed to send notification")
		m.bus.Publish(Event{
			Kind:      EventAlertSendError,
			Timestamp: now,
			RuleName:  a.Name,
			Channel:   ch.channel.Name,
			Alert:     &a,
			Err:       derr,
		})
		return
	}

	m.logger.Debug().Str("channel", ch.channel.Name).Str("alert_id", a.ID).Msg("Notification sent")
	m.bus.Publish(Event{
		Kind:      EventAlertSent,
		Timestamp: now,
		RuleName:  a.Name,
		Channel:   ch.channel.Name,
		Alert:     &a,
	})
}
