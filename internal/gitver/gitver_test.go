package gitver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bmadloop/internal/domain"
)

func TestMatchesCommitLog(t *testing.T) {
	id := domain.StoryID{Epic: 5, Seq: 2}

	t.Run("feat commit matches", func(t *testing.T) {
		log := "a1b2c3d feat(story): implement user auth for 5-2\n9f8e7d6 chore: bump deps"
		assert.True(t, MatchesCommitLog(log, id))
	})

	t.Run("fix commit matches", func(t *testing.T) {
		log := "a1b2c3d fix(story): correct session expiry in 5-2-user-auth"
		assert.True(t, MatchesCommitLog(log, id))
	})

	t.Run("wrong story does not match", func(t *testing.T) {
		log := "a1b2c3d feat(story): implement billing for 6-1"
		assert.False(t, MatchesCommitLog(log, id))
	})

	t.Run("identifier must be word bounded", func(t *testing.T) {
		log := "a1b2c3d feat(story): implement 15-23 widget"
		assert.False(t, MatchesCommitLog(log, domain.StoryID{Epic: 5, Seq: 2}))
	})

	t.Run("unscoped commit does not match", func(t *testing.T) {
		log := "a1b2c3d feat: implement user auth for 5-2"
		assert.False(t, MatchesCommitLog(log, id))
	})

	t.Run("empty log", func(t *testing.T) {
		assert.False(t, MatchesCommitLog("", id))
	})
}
