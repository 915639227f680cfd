package metrics

const (
	EngineBeatsProcessedH = "The total number of beat events processed"
	EngineBeatsProcessedN = "bendulumclock_engine_beats_processed"
	EngineBeatIntervalH   = "The most recent measured beat interval in microseconds"
	EngineBeatIntervalN   = "bendulumclock_engine_beat_interval_us"
	EngineRunModeH        = "The current run mode of the calibration engine"
	EngineRunModeN        = "bendulumclock_engine_run_mode"
	EngineAdvancesH       = "The total number of advance commands issued to the movement"
	EngineAdvancesN       = "bendulumclock_engine_advances"
	EngineCorrectionH     = "The correction applied to the most recent advance in microseconds"
	EngineCorrectionN     = "bendulumclock_engine_correction_us"

	LedgerPendingH = "The pending manual adjustment in tenths of a second"
	LedgerPendingN = "bendulumclock_ledger_pending_tenths"
	LedgerCommitsH = "The total number of committed manual adjustments"
	LedgerCommitsN = "bendulumclock_ledger_commits"

	StoreSavesH = "The total number of settings records written to the store"
	StoreSavesN = "bendulumclock_store_saves"

	RemoteIntentsAcceptedH = "The total number of intents accepted from the remote bridge"
	RemoteIntentsAcceptedN = "bendulumclock_remote_intents_accepted"
	RemoteIntentsDroppedH  = "The total number of unresolvable or overflowing remote datagrams dropped"
	RemoteIntentsDroppedN  = "bendulumclock_remote_intents_dropped"
)
