// Package guest throttles anonymous trial usage per device token with a
// sliding window anchored to the device's most recent attempt.
package guest
