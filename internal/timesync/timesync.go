// Package timesync implements the stateless time-exchange endpoint from
// spec.md §4.6: no state, no rate limiting, safe to serve from any
// instance. Both the WebSocket time:sync message and the HTTP /time
// route delegate here so the two transports share one implementation.
package timesync

import "time"

// Exchange is the result of one time-exchange round, carrying the
// extremities of server-side handling per spec.md §4.6 and the
// getSyncedTime testable property in spec.md §8.
type Exchange struct {
	ClientSendTime       int64
	ServerReceiveTime    int64
	ServerSendTime       int64
	ServerProcessingTime int64
}

// Handle captures serverReceiveTime immediately, then serverSendTime
// immediately before returning, so ServerProcessingTime reflects only
// time.Now()'s own cost rather than any caller-side work. clientSendTime
// is echoed back unmodified; 0 if the caller did not supply one.
func Handle(clientSendTime int64) Exchange {
	serverReceiveTime := time.Now().UnixMilli()
	serverSendTime := time.Now().UnixMilli()
	return Exchange{
		ClientSendTime:       clientSendTime,
		ServerReceiveTime:    serverReceiveTime,
		ServerSendTime:       serverSendTime,
		ServerProcessingTime: serverSendTime - serverReceiveTime,
	}
}
