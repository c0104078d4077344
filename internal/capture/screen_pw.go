package capture

import (
	"fmt"
	"os"

	"github.com/meshcast/meshcast/internal/host"
)

func init() {
	Register(&Driver{
		Name:        "screen_pw",
		Description: "Grabbing screen through the desktop portal and the media server",
		Init:        initScreenPW,
	})
}

func initScreenPW(cfg string, audio bool) (*Session, host.InitCode, error) {
	if audio {
		return nil, host.AudioNotSupported, fmt.Errorf("screen_pw does not capture audio")
	}
	opts, err := ParseOptions(cfg)
	if err != nil {
		return nil, host.InitFail, err
	}
	if opts.Help {
		fmt.Fprint(os.Stdout, Usage())
		return nil, host.InitNoErr, nil
	}
	s, err := Init(opts)
	if err != nil {
		return nil, host.InitFail, err
	}
	return s, host.InitOK, nil
}
