package repository

import "fmt"

// 索引存储 key 布局
const (
	userFollowingKey   = "user:%s:following"   // zset followee -> followed at (ms)
	userFollowersKey   = "user:%s:followers"   // zset follower -> followed at (ms)
	userTrustedKey     = "user:%s:trusted"     // zset trusted follower -> trusted at (ms)
	userFeedKey        = "user:%s:feed"        // zset pid -> posted at (ms)
	userPostsKey       = "user:%s:posts"       // list pid, newest first
	userAlertsKey      = "user:%s:alerts"      // zset alert id -> received at (ms)
	userAlertsSeenKey  = "user:%s:alerts:seen" // string, last checked (ms)
	postVotesKey       = "post:%s:votes"       // zset voter -> sign * cast at (ms)
	postSubscribersKey = "post:%s:subscribers" // zset uid -> reason
	postRepliesKey     = "post:%s:replies"     // zset reply pid -> created at (ms) * 1000 + seq
	postReplySeqKey    = "post:%s:replies:seq" // string, last reply score
	alertKey           = "alert:%s"            // json blob with TTL
	userSnapshotKey    = "user:%s"             // json snapshot cache
	userSnapshotVerKey = "user:%s:snapver"     // string, bumped on invalidate

	PostScoresKey = "scores:posts" // hash pid -> score
	UserScoresKey = "scores:users" // hash uid -> score
)

func FollowingKey(uid string) string    { return fmt.Sprintf(userFollowingKey, uid) }
func FollowersKey(uid string) string    { return fmt.Sprintf(userFollowersKey, uid) }
func TrustedKey(uid string) string      { return fmt.Sprintf(userTrustedKey, uid) }
func FeedKey(uid string) string         { return fmt.Sprintf(userFeedKey, uid) }
func UserPostsKey(uid string) string    { return fmt.Sprintf(userPostsKey, uid) }
func AlertsKey(uid string) string       { return fmt.Sprintf(userAlertsKey, uid) }
func AlertsSeenKey(uid string) string   { return fmt.Sprintf(userAlertsSeenKey, uid) }
func VotesKey(pid string) string        { return fmt.Sprintf(postVotesKey, pid) }
func SubscribersKey(pid string) string  { return fmt.Sprintf(postSubscribersKey, pid) }
func RepliesKey(pid string) string      { return fmt.Sprintf(postRepliesKey, pid) }
func ReplySeqKey(pid string) string     { return fmt.Sprintf(postReplySeqKey, pid) }
func AlertKey(aid string) string        { return fmt.Sprintf(alertKey, aid) }
func UserSnapshotKey(uid string) string { return fmt.Sprintf(userSnapshotKey, uid) }

func UserSnapshotVersionKey(uid string) string { return fmt.Sprintf(userSnapshotVerKey, uid) }
