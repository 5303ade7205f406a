package alert

// Well-known alert names (spec §4.6 inventory). Direction-scoped alerts
// are suffixed _output / _input / _post_mix_pre_dsp where the inventory
// names a per-direction variant.
const (
	OutputVolume               = "output_volume"
	OutputMute                 = "output_mute"
	CaptureGain                = "capture_gain"
	CaptureMute                = "capture_mute"
	Nodes                      = "nodes"
	ActiveNode                 = "active_node"
	OutputNodeVolume           = "output_node_volume"
	NodeLeftRightSwapped       = "node_left_right_swapped"
	InputNodeGain              = "input_node_gain"
	SuspendChanged             = "suspend_changed"
	HotwordTriggered           = "hotword_triggered"
	NumActiveStreamsOutput     = "num_active_streams_output"
	NumActiveStreamsInput      = "num_active_streams_input"
	NumActiveStreamsPostMix    = "num_active_streams_post_mix_pre_dsp"
	NumNonChromeOutputStreams  = "num_non_chrome_output_streams"
	NonEmptyAudioStateChanged  = "non_empty_audio_state_changed"
	BTBatteryChanged           = "bt_battery_changed"
	NumInputStreamsWithPerm    = "num_input_streams_with_permission"
	SevereUnderrun             = "severe_underrun"
	Underrun                   = "underrun"
	GeneralSurvey              = "general_survey"
	SpeakOnMuteDetected        = "speak_on_mute_detected"
)
