package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/stockcount_backend/config"
	"github.com/sirupsen/logrus"
)

const countingLockTTL = 60 * time.Second

func countingLockKey(businessId string, sessionId int) string {
	return fmt.Sprintf("counting:finalize:%s:%d", businessId, sessionId)
}

// obtainCountingLock takes the cross-instance finalize lock for a session.
// Redis is best-effort here: the session row bump inside the transaction is
// what serializes finalize with submissions, so a missing or busy redis only
// logs a warning. The returned release func is always safe to call.
func obtainCountingLock(ctx context.Context, businessId string, sessionId int) func() {
	logger := config.RequestLogger(ctx).WithFields(logrus.Fields{
		"field":               "obtainCountingLock",
		"counting_session_id": sessionId,
	})
	locker := config.GetRedisLock()
	if locker == nil {
		logger.Warn("redis lock not ready; proceeding without redis lock")
		return func() {}
	}
	lock, err := locker.Obtain(ctx, countingLockKey(businessId, sessionId), countingLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(200*time.Millisecond), 10),
	})
	if err == redislock.ErrNotObtained {
		logger.Warn("could not obtain redis lock; proceeding without redis lock")
		return func() {}
	} else if err != nil {
		logger.Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
		return func() {}
	}
	return func() {
		if releaseErr := lock.Release(context.Background()); releaseErr != nil && releaseErr != redislock.ErrLockNotHeld {
			logger.Warn("failed to release redis lock: " + releaseErr.Error())
		}
	}
}
