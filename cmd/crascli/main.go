// Command crascli is a thin D-Bus client for crasd's control surface
// (spec §6): one subcommand per RPC family, suitable for scripting and
// manual diagnosis.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/pflag"

	"github.com/avocet-audio/crasd/internal/control"
)

func main() {
	pflag.Usage = usage
	pflag.Parse()

	args := pflag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		fatalf("connect system bus: %v", err)
	}
	defer conn.Close()

	obj := conn.Object(control.BusName, control.ObjectPath)

	if err := dispatch(obj, args[0], args[1:]); err != nil {
		fatalf("%v", err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `crascli - control surface client for crasd

Usage: crascli <command> [args]

Commands:
  get-volume                         print system volume/mute state
  set-output-volume <0-100>          set system output volume
  set-output-mute <true|false>       set system output mute
  set-input-mute <true|false>        set system input (capture) mute
  get-nodes                          list nodes known to the registry
  set-active-output-node <N:M>       select the active output node
  set-active-input-node <N:M>        select the active input node
  set-node-volume <N:M:V>            set an output node's volume to V
  set-node-gain <N:M:V>              set an input node's capture gain to V
  rtc-running                        print whether RTC mode is active
  effects <name,name,...|0xHEX>      print the decoded effect bitmask
`)
	pflag.PrintDefaults()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "crascli: "+format+"\n", args...)
	os.Exit(1)
}

func dispatch(obj dbus.BusObject, cmd string, args []string) error {
	iface := control.Interface
	switch cmd {
	case "get-volume":
		var vol int32
		var sysMute, capMute, userMute bool
		if err := obj.Call(iface+".GetVolumeState", 0).Store(&vol, &sysMute, &capMute, &userMute); err != nil {
			return err
		}
		fmt.Printf("volume=%d system_mute=%v capture_mute=%v user_mute=%v\n", vol, sysMute, capMute, userMute)
		return nil

	case "set-output-volume":
		v, err := requireInt32(args, "set-output-volume")
		if err != nil {
			return err
		}
		return obj.Call(iface+".SetOutputVolume", 0, v).Err

	case "set-output-mute":
		v, err := requireBool(args, "set-output-mute")
		if err != nil {
			return err
		}
		return obj.Call(iface+".SetOutputMute", 0, v).Err

	case "set-input-mute":
		v, err := requireBool(args, "set-input-mute")
		if err != nil {
			return err
		}
		return obj.Call(iface+".SetInputMute", 0, v).Err

	case "get-nodes":
		var nodes []map[string]dbus.Variant
		if err := obj.Call(iface+".GetNodes", 0).Store(&nodes); err != nil {
			return err
		}
		for _, n := range nodes {
			fmt.Printf("id=%v type=%v name=%v active=%v plugged_time=%v\n",
				n["Id"].Value(), n["Type"].Value(), n["Name"].Value(), n["Active"].Value(), n["PluggedTime"].Value())
		}
		return nil

	case "set-active-output-node":
		id, _, _, err := requireNodeArg(args, "set-active-output-node")
		if err != nil {
			return err
		}
		return obj.Call(iface+".SetActiveOutputNode", 0, id).Err

	case "set-active-input-node":
		id, _, _, err := requireNodeArg(args, "set-active-input-node")
		if err != nil {
			return err
		}
		return obj.Call(iface+".SetActiveInputNode", 0, id).Err

	case "set-node-volume":
		id, value, hasValue, err := requireNodeArg(args, "set-node-volume")
		if err != nil {
			return err
		}
		if !hasValue {
			return fmt.Errorf("set-node-volume requires N:M:V")
		}
		return obj.Call(iface+".SetOutputNodeVolume", 0, id, int32(value)).Err

	case "set-node-gain":
		id, value, hasValue, err := requireNodeArg(args, "set-node-gain")
		if err != nil {
			return err
		}
		if !hasValue {
			return fmt.Errorf("set-node-gain requires N:M:V")
		}
		return obj.Call(iface+".SetInputNodeGain", 0, id, int32(value)).Err

	case "rtc-running":
		var running bool
		if err := obj.Call(iface+".GetRtcRunning", 0).Store(&running); err != nil {
			return err
		}
		fmt.Println(running)
		return nil

	case "effects":
		if len(args) != 1 {
			return fmt.Errorf("effects requires exactly one argument")
		}
		mask, err := control.ParseEffectMask(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("0x%x\n", mask)
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func requireNodeArg(args []string, cmd string) (id uint64, value int64, hasValue bool, err error) {
	if len(args) != 1 {
		return 0, 0, false, fmt.Errorf("%s requires exactly one N:M or N:M:V argument", cmd)
	}
	return control.ParseNodeArg(args[0])
}

func requireInt32(args []string, cmd string) (int32, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s requires exactly one integer argument", cmd)
	}
	v, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", cmd, err)
	}
	return int32(v), nil
}

func requireBool(args []string, cmd string) (bool, error) {
	if len(args) != 1 {
		return false, fmt.Errorf("%s requires exactly one bool argument", cmd)
	}
	v, err := strconv.ParseBool(args[0])
	if err != nil {
		return false, fmt.Errorf("%s: %w", cmd, err)
	}
	return v, nil
}
