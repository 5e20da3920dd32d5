package metrics

const (
	ClientReqsSentH      = "The total number of NTP requests sent"
	ClientReqsSentN      = "synchroclock_client_reqs_sent"
	ClientPktsReceivedH  = "The total number of packets received from the upstream server"
	ClientPktsReceivedN  = "synchroclock_client_pkts_received"
	ClientRespsAcceptedH = "The total number of NTP responses accepted"
	ClientRespsAcceptedN = "synchroclock_client_resps_accepted"

	ServerPktsReceivedH = "The total number of packets received"
	ServerPktsReceivedN = "synchroclock_server_pkts_received"
	ServerReqsAcceptedH = "The total number of requests accepted"
	ServerReqsAcceptedN = "synchroclock_server_reqs_accepted"
	ServerReqsServedH   = "The total number of requests served"
	ServerReqsServedN   = "synchroclock_server_reqs_served"

	SyncPollsH            = "The total number of polls started"
	SyncPollsN            = "synchroclock_sync_polls"
	SyncOutliersH         = "The total number of samples rejected by the delay filter"
	SyncOutliersN         = "synchroclock_sync_outliers"
	SyncNetCorrectionsH   = "The total number of network corrections applied to the reference clock"
	SyncNetCorrectionsN   = "synchroclock_sync_net_corrections"
	SyncDriftCorrectionsH = "The total number of drift projections applied to the reference clock"
	SyncDriftCorrectionsN = "synchroclock_sync_drift_corrections"
	SyncOffsetH           = "The most recent measured clock offset in seconds"
	SyncOffsetN           = "synchroclock_sync_offset_seconds"
	SyncSessionDriftH     = "The current session drift estimate in ppm"
	SyncSessionDriftN     = "synchroclock_sync_session_drift_ppm"
	SyncLedgerDriftH      = "The current long-term drift in ppm"
	SyncLedgerDriftN      = "synchroclock_sync_ledger_drift_ppm"
	SyncReachH            = "The current reachability register"
	SyncReachN            = "synchroclock_sync_reach"
	SyncNextPollH         = "The next poll interval in seconds"
	SyncNextPollN         = "synchroclock_sync_next_poll_seconds"
)
