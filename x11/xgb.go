package x11

import (
	"fmt"
	"os"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/xprop"
)

// Connect opens a connection to the X server and returns a
// [PropertyStore] backed by it. An empty display uses $DISPLAY.
func Connect(display string) (PropertyStore, error) {
	if display == "" && os.Getenv("DISPLAY") == "" {
		return nil, ErrUnavailable
	}

	xu, err := xgbutil.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("connect: %w: %w", ErrUnavailable, err)
	}

	return &xStore{xu: xu}, nil
}

type xStore struct {
	xu *xgbutil.XUtil
}

func (s *xStore) SetString(window uint32, name, value string) error {
	return xprop.ChangeProp(s.xu, xproto.Window(window), 8, name, "STRING", []byte(value))
}

func (s *xStore) String(window uint32, name string) (string, error) {
	return xprop.PropValStr(xprop.GetProperty(s.xu, xproto.Window(window), name))
}

func (s *xStore) Delete(window uint32, name string) error {
	atom, err := xprop.Atm(s.xu, name)
	if err != nil {
		return err
	}

	return xproto.DeletePropertyChecked(s.xu.Conn(), xproto.Window(window), atom).Check()
}

func (s *xStore) Close() error {
	s.xu.Conn().Close()
	return nil
}
