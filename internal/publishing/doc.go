// Package publishing posts completed monologues to the social platform.
//
// A sync job works on one external subject. It reads the subject's
// timeline first so posts that already went out (for example before a crash
// between posting and recording) are reconciled instead of posted twice.
// Every platform call goes through the shared rate limiter; when a quota is
// exhausted the job re-enqueues itself under a deterministic id and reports
// success, so pending syncs for a subject never stack up.
package publishing
