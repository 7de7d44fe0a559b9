// Package limiters contains the Redis-backed throttles guarding the OTP
// channel: a resend cooldown keyed per subject and a verification attempt
// budget. Both are wall-clock driven and hold no process-local state, so
// they stay correct across engine restarts and bypassed client timers.
package limiters
