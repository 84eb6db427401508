// Package chat implements the interactive Bubble Tea chat screen.
package chat

import "agntschat/internal/usecase"

// progressMsg carries the cumulative reply text of request gen.
type progressMsg struct {
	gen      uint64
	snapshot string
}

// scrollMsg asks the transcript to follow the newest output.
type scrollMsg struct {
	gen uint64
}

// replyMsg ends request gen.
type replyMsg struct {
	gen   uint64
	reply usecase.Reply
	err   error
}
