// Package training is the message-progression core of drillbot.
//
// All participants move through one fixed scenario in lockstep. The shared
// cursor is never stored: it is always max(scenario index in the delivery
// log)+1, so a restart or a crash mid-tick cannot desynchronize it from what
// was actually delivered.
//
// Engine.RunTick delivers the item at the cursor to every active participant.
// Matcher.RecordAnswer pairs a participant's free-text reply with their most
// recent unanswered delivery and stores the response latency. Registry owns
// participant state. Trainer bundles the three behind the inbound events the
// chat layer and the scheduler call.
package training
