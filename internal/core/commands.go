package core

import (
	"fmt"

	"expander-service/internal/audio"
	"expander-service/internal/hardware"
	"expander-service/internal/osc"
	"expander-service/internal/telemetry"
)

// registerCommands binds every inbound route to its handler.
func (s *ExpanderSystem) registerCommands() {
	r := s.registry

	r.MustRegister("/init", s.handleInit)
	r.MustRegister("/test", s.handleTest)
	r.MustRegister("/quit", func(osc.Args) error {
		s.RequestQuit()
		return nil
	})

	r.MustRegister("/audio/fx/play", func(args osc.Args) error { return s.handlePlayEffect(args, true) })
	r.MustRegister("/audio/fx/playnew", func(args osc.Args) error { return s.handlePlayEffect(args, false) })
	r.MustRegister("/audio/fx/cue", s.handleCueEffect)
	r.MustRegister("/audio/fx/pause", func(osc.Args) error {
		s.audio.PauseEffect()
		return nil
	})
	r.MustRegister("/audio/fx/resume", func(osc.Args) error {
		s.audio.ResumeEffect()
		return nil
	})

	r.MustRegister("/audio/bg/volume", s.handleBackgroundVolume)
	r.MustRegister("/audio/bg/play", func(osc.Args) error { return s.audio.PlayBackground() })
	r.MustRegister("/audio/bg/pause", s.handlePauseBackground)
	r.MustRegister("/audio/bg/next", func(osc.Args) error { return s.audio.AdvanceBackground() })

	r.MustRegister("/audio/trk/cue", s.handleCueTrack)
	r.MustRegister("/audio/trk/play", s.handlePlayTrack)
	r.MustRegister("/audio/trk/pause", s.handlePauseBackground)
	r.MustRegister("/audio/trk/resume", func(osc.Args) error { return s.audio.ResumeTrack() })

	r.MustRegister("/output", s.handleOutput)
	r.MustRegister("/motor/exec", s.handleMotorExec)
}

// handleCommandLine runs a textual command such as "/audio/fx/play boo".
func (s *ExpanderSystem) handleCommandLine(line string) error {
	msg, err := osc.ParseCommandLine(line)
	if err != nil {
		return err
	}
	return s.registry.Handle(msg)
}

func (s *ExpanderSystem) handleInit(osc.Args) error {
	s.logger.Infof("Init received")
	return nil
}

func (s *ExpanderSystem) handleTest(args osc.Args) error {
	v, err := args.Float(0)
	if err != nil {
		return err
	}
	s.logger.Infof("Test %v", v)
	return nil
}

func (s *ExpanderSystem) handlePlayEffect(args osc.Args, replace bool) error {
	name, err := args.String(0)
	if err != nil {
		return err
	}
	left, err := args.OptFloat(1, audio.NoVolume)
	if err != nil {
		return err
	}
	right, err := args.OptFloat(2, audio.NoVolume)
	if err != nil {
		return err
	}
	return s.audio.PlayEffect(name, left, right, replace)
}

func (s *ExpanderSystem) handleCueEffect(args osc.Args) error {
	name, err := args.String(0)
	if err != nil {
		return err
	}
	return s.audio.CueEffect(name)
}

func (s *ExpanderSystem) handleBackgroundVolume(args osc.Args) error {
	v, err := args.Float(0)
	if err != nil {
		return err
	}
	s.audio.SetBackgroundVolume(v)
	return nil
}

func (s *ExpanderSystem) handlePauseBackground(osc.Args) error {
	s.audio.PauseBackground()
	return nil
}

func (s *ExpanderSystem) handleCueTrack(args osc.Args) error {
	name, err := args.String(0)
	if err != nil {
		return err
	}
	return s.audio.CueTrack(name)
}

func (s *ExpanderSystem) handlePlayTrack(args osc.Args) error {
	name, err := args.String(0)
	if err != nil {
		return err
	}
	return s.audio.PlayTrack(name)
}

func (s *ExpanderSystem) handleOutput(args osc.Args) error {
	channel, err := args.Int(0)
	if err != nil {
		return err
	}
	value, err := args.Int(1)
	if err != nil {
		return err
	}

	if s.io == nil {
		s.logger.Warnf("Output %d=%d ignored: %v", channel, value, hardware.ErrNoHardware)
		return nil
	}
	s.logger.Infof("Output %d=%d", channel, value)
	return s.io.WriteOutput(channel, value)
}

func (s *ExpanderSystem) handleMotorExec(args osc.Args) error {
	var v [4]int
	for i := range v {
		n, err := args.Int(i)
		if err != nil {
			return err
		}
		v[i] = n
	}

	if s.serial == nil {
		s.logger.Warnf("Motor command for channel %d ignored: no serial link", v[0])
		return nil
	}
	cmd := telemetry.FormatMotorCommand(v[0], v[1], v[2], v[3])
	s.logger.Infof("Motor exec %q", cmd)
	if err := s.serial.WriteCommand(cmd); err != nil {
		return fmt.Errorf("motor command failed: %w", err)
	}
	return nil
}
