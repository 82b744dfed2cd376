package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicMatchesPattern(t *testing.T) {
	tests := []struct {
		topic   Topic
		pattern string
		want    bool
	}{
		{TopicExecCompleted, "exec.*", true},
		{TopicExecCompleted, "exec.completed", true},
		{TopicExecCompleted, "intent.*", false},
		{TopicIntentSubmitted, "intent.submitted", true},
		{TopicIntentSubmitted, "intent.accepted", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.topic.MatchesPattern(tt.pattern), "%s vs %s", tt.topic, tt.pattern)
	}
}

func TestValidateTopic(t *testing.T) {
	assert.NoError(t, ValidateTopic(TopicIntentSubmitted))
	assert.ErrorIs(t, ValidateTopic(Topic("not.a.topic")), ErrInvalidTopic)
}
