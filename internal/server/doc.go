// Package server implements the real-time delivery side of livechat.
//
// A Hub owns every WebSocket Session of the process. Sessions authenticate
// with an auth frame, after which the Registry maps their identity to them.
// Compose frames are persisted through the message store and handed to the
// Router, which pushes new_message to the recipients that are online and
// acknowledges the sender with message_sent. Offline recipients catch up
// through the history endpoints.
package server
