// Package payment turns payment gateway webhooks into subscription payment
// events.
//
// JSONParser accepts the generic {subscription_id, status, amount, reference,
// method} body. PaddleParser verifies the Paddle-Signature header and maps
// transaction events. Notifications that carry no payment outcome return
// ErrIgnoredEvent and should be acknowledged so the gateway stops
// redelivering them.
package payment
