package serialmux

import (
	"errors"
	"testing"

	"go.bug.st/serial"
)

func TestPortOptions_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{name: "defaults", in: PortOptions{}, want: PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}},
		{name: "long parity name", in: PortOptions{BaudRate: 57600, Parity: " even "}, want: PortOptions{BaudRate: 57600, DataBits: 8, StopBits: 1, Parity: "E"}},
		{name: "seven data bits", in: PortOptions{DataBits: 7, StopBits: 2, Parity: "o"}, want: PortOptions{BaudRate: DefaultBaudRate, DataBits: 7, StopBits: 2, Parity: "O"}},
		{name: "bad data bits", in: PortOptions{DataBits: 9}, wantErr: true},
		{name: "bad stop bits", in: PortOptions{StopBits: 3}, wantErr: true},
		{name: "bad parity", in: PortOptions{Parity: "mark"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Normalize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPortOptions_PortModeAndSerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 9600, StopBits: 2, Parity: "E"}.PortMode()
	if err != nil {
		t.Fatalf("PortMode() failed: %v", err)
	}
	if mode.BaudRate != 9600 || mode.StopBits != TwoStopBits || mode.Parity != EvenParity {
		t.Errorf("PortMode() = %+v", mode)
	}

	sm := serialMode(mode)
	if sm.BaudRate != 9600 || sm.StopBits != serial.TwoStopBits || sm.Parity != serial.EvenParity {
		t.Errorf("serialMode() = %+v", sm)
	}

	def := serialMode(nil)
	if def.BaudRate != DefaultBaudRate || def.DataBits != 8 || def.Parity != serial.NoParity {
		t.Errorf("serialMode(nil) = %+v, want 115200 8N1", def)
	}
}

func TestOpenSerialMux(t *testing.T) {
	var gotPath string
	var gotMode *SerialPortMode
	port := newScriptedPort()
	factory := SerialPortOpener(func(path string, mode *SerialPortMode) (SerialPorter, error) {
		gotPath, gotMode = path, mode
		return port, nil
	})

	mux, err := OpenSerialMux(factory, "/dev/ttyACM0", PortOptions{BaudRate: 230400})
	if err != nil {
		t.Fatalf("OpenSerialMux() failed: %v", err)
	}
	if gotPath != "/dev/ttyACM0" || gotMode.BaudRate != 230400 {
		t.Errorf("factory called with %q %+v", gotPath, gotMode)
	}
	if err := mux.SendCommand("STATUS"); err != nil {
		t.Fatalf("SendCommand() failed: %v", err)
	}
	if string(port.GetWrittenData()) != "STATUS\n" {
		t.Errorf("written = %q", port.GetWrittenData())
	}

	if _, err := OpenSerialMux(factory, "/dev/ttyACM0", PortOptions{Parity: "x"}); err == nil {
		t.Error("expected invalid options to fail before opening")
	}

	failing := SerialPortOpener(func(string, *SerialPortMode) (SerialPorter, error) {
		return nil, errors.New("no such device")
	})
	if _, err := OpenSerialMux(failing, "/dev/none", PortOptions{}); err == nil {
		t.Error("expected open error")
	}
}
