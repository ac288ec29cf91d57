package contentclient

import (
	"bufio"
	"context"
	"strings"

	"github.com/AntonStoeckl/live-query-loader-go/loader"
)

const (
	eventMutation     = "mutation"
	eventWelcome      = "welcome"
	eventChannelError = "channelError"
	eventDisconnect   = "disconnect"
	maxEventLineBytes = 1 << 20
	logMsgBadEvent    = "skipping undecodable listener event"
	logMsgStreamEnded = "listener stream ended"
	logAttrEvent      = "event"
)

type mutationPayload struct {
	EventID    string `json:"eventId"`
	DocumentID string `json:"documentId"`
	Transition string `json:"transition"`
}

type sseEvent struct {
	name string
	id   string
	data strings.Builder
}

func (e *sseEvent) reset() {
	e.name = ""
	e.id = ""
	e.data.Reset()
}

// Listen subscribes to mutations of documents matched by query. The listen endpoint is
// never served by the CDN. The returned channel is closed when ctx is done, the server
// ends the stream, or the stream fails.
func (c *Client) Listen(ctx context.Context, query string, params loader.QueryParams) (<-chan loader.MutationEvent, error) {
	if query == "" {
		return nil, loader.ErrEmptyQuery
	}

	values, err := c.queryValues(query, params, requestTagListen)
	if err != nil {
		return nil, err
	}

	values.Set("includeResult", "false")
	values.Set("visibility", "query")

	resp, err := c.do(ctx, c.endpoint(false, "listen")+"?"+values.Encode(), contentTypeEventFeed)
	if err != nil {
		c.logFailure(endpointListen, err)
		return nil, err
	}

	events := make(chan loader.MutationEvent)

	go func() {
		defer close(events)
		defer resp.Body.Close() //nolint:errcheck

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64<<10), maxEventLineBytes)

		var current sseEvent

		for scanner.Scan() {
			line := scanner.Text()

			if line != "" {
				current.apply(line)
				continue
			}

			if !c.dispatch(ctx, &current, events) {
				return
			}
			current.reset()
		}

		if c.logger != nil && ctx.Err() == nil {
			args := []any{logAttrEndpoint, endpointListen}
			if err := scanner.Err(); err != nil {
				args = append(args, logAttrError, err.Error())
			}
			c.logger.Debug(logMsgStreamEnded, args...)
		}
	}()

	return events, nil
}

// apply parses one "field: value" line of the event stream.
func (e *sseEvent) apply(line string) {
	if strings.HasPrefix(line, ":") {
		return
	}

	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "event":
		e.name = value
	case "id":
		e.id = value
	case "data":
		if e.data.Len() > 0 {
			e.data.WriteByte('\n')
		}
		e.data.WriteString(value)
	}
}

// dispatch delivers a completed event and reports whether the stream should continue.
func (c *Client) dispatch(ctx context.Context, event *sseEvent, out chan<- loader.MutationEvent) bool {
	switch event.name {
	case eventChannelError, eventDisconnect:
		return false
	case eventMutation:
	case eventWelcome:
		return true
	default:
		return true
	}

	var payload mutationPayload
	if err := json.UnmarshalFromString(event.data.String(), &payload); err != nil {
		if c.logger != nil {
			c.logger.Warn(logMsgBadEvent, logAttrError, err.Error(), logAttrEvent, event.name)
		}

		return true
	}

	eventID := payload.EventID
	if eventID == "" {
		eventID = event.id
	}

	select {
	case out <- loader.MutationEvent{
		Type:       eventMutation,
		EventID:    eventID,
		DocumentID: payload.DocumentID,
		Transition: payload.Transition,
	}:
		return true
	case <-ctx.Done():
		return false
	}
}
