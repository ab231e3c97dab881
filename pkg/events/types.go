package events

const (
	TopicTestCompleted      = "typing.test-completed"
	TopicLeaderboardRefresh = "leaderboard.refresh"
	TopicSystemMessage      = "system.message"
)

// TestCompletedEvent is produced after a finished session is persisted.
type TestCompletedEvent struct {
	TestID      string  `json:"testId"`
	UserID      *string `json:"userId"`
	Username    string  `json:"username"`
	WPM         float64 `json:"wpm"`
	Accuracy    float64 `json:"accuracy"`
	Consistency float64 `json:"consistency"`
	Errors      int     `json:"errors"`
	WordsTyped  int     `json:"wordsTyped"`
	TimeSpent   int     `json:"timeSpent"`
	TestType    string  `json:"testType,omitempty"`
	Difficulty  string  `json:"difficulty,omitempty"`
	InstanceID  string  `json:"instanceId"`
	Timestamp   string  `json:"timestamp"`
}

// LeaderboardRefreshEvent asks for the cached leaderboard to be dropped and
// pushed again, e.g. after an admin edit.
type LeaderboardRefreshEvent struct {
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

type SystemMessageEvent struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}
