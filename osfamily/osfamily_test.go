package osfamily_test

import (
	"errors"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hextrackr/advisory-sync/osfamily"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    osfamily.Result
		wantErr bool
	}{
		{in: "CISCO IOS XE 16.9.2", want: osfamily.Result{Family: osfamily.IOSXE, Version: "16.9.2"}},
		{in: "cisco ios xe 16.9.2", want: osfamily.Result{Family: osfamily.IOSXE, Version: "16.9.2"}},
		{in: "Cisco IOS-XE 17.3.4a", want: osfamily.Result{Family: osfamily.IOSXE, Version: "17.3.4a"}},
		{in: "IOSXE 17.9.1", want: osfamily.Result{Family: osfamily.IOSXE, Version: "17.9.1"}},
		{in: "Cisco IOS XE Software, Version 17.03.04a", want: osfamily.Result{Family: osfamily.IOSXE, Version: "17.03.04a"}},
		{in: "Cisco IOS XR 7.3.2", want: osfamily.Result{Family: osfamily.IOSXR, Version: "7.3.2"}},
		{in: "IOS-XR 6.7.1", want: osfamily.Result{Family: osfamily.IOSXR, Version: "6.7.1"}},
		{in: "NX-OS 9.3(5)", want: osfamily.Result{Family: osfamily.NXOS, Version: "9.3(5)"}},
		{in: "Cisco Nexus 9000 NXOS 10.2(3)", want: osfamily.Result{Family: osfamily.NXOS, Version: "10.2(3)"}},
		{in: "Cisco ASA 9.16.4", want: osfamily.Result{Family: osfamily.ASA, Version: "9.16.4"}},
		{in: "Cisco Adaptive Security Appliance 9.8(4)29", want: osfamily.Result{Family: osfamily.ASA, Version: "9.8(4)29"}},
		{in: "Firepower Threat Defense 7.2.5", want: osfamily.Result{Family: osfamily.FTD, Version: "7.2.5"}},
		{in: "Cisco FTD 6.6.7", want: osfamily.Result{Family: osfamily.FTD, Version: "6.6.7"}},
		{in: "PAN-OS 10.2.4-h4", want: osfamily.Result{Family: osfamily.PANOS, Version: "10.2.4-h4"}},
		{in: "Palo Alto Networks PANOS 11.0.2", want: osfamily.Result{Family: osfamily.PANOS, Version: "11.0.2"}},
		{in: "Cisco IOS 15.2(8)E8", want: osfamily.Result{Family: osfamily.IOS, Version: "15.2(8)E8"}},
		{in: "15.2(7)E3", want: osfamily.Result{Family: osfamily.IOS, Version: "15.2(7)E3"}},
		{in: "12.2(55)SE12", want: osfamily.Result{Family: osfamily.IOS, Version: "12.2(55)SE12"}},
		{in: "15.0.2SE", want: osfamily.Result{Family: osfamily.IOS, Version: "15.0.2SE"}},
		{in: "9.3(8)", want: osfamily.Result{Family: osfamily.NXOS, Version: "9.3(8)"}},
		{in: "16.12.4", want: osfamily.Result{Family: osfamily.IOSXE, Version: "16.12.4"}},
		{in: "17.3.1a", want: osfamily.Result{Family: osfamily.IOSXE, Version: "17.3.1a"}},
		{in: "3.16.10", want: osfamily.Result{Family: osfamily.IOSXE, Version: "3.16.10"}},
		{in: "7.5.2", want: osfamily.Result{Family: osfamily.IOSXR, Version: "7.5.2"}},
		{in: "10.2.4-h4", want: osfamily.Result{Family: osfamily.PANOS, Version: "10.2.4-h4"}},
		{in: "  CISCO   IOS XE\t16.9.2 ", want: osfamily.Result{Family: osfamily.IOSXE, Version: "16.9.2"}},
		{in: "Windows Server 2019", wantErr: true},
		{in: "Cisco IOS XE", wantErr: true},
		{in: "11.1.1", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := osfamily.Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, osfamily.ErrUnparseable))
				return
			}
			require.NoError(t, err)
			if diff := pretty.Compare(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) diff: (-want +got)\n%s", tt.in, diff)
			}
		})
	}
}

func TestParser_RuleOrder(t *testing.T) {
	var generic, specific osfamily.Rule
	for _, r := range osfamily.Rules {
		switch r.Name {
		case "IOS name":
			generic = r
		case "IOS XE name":
			specific = r
		}
	}
	require.NotNil(t, generic.Pattern)
	require.NotNil(t, specific.Pattern)

	got, err := osfamily.NewParser([]osfamily.Rule{specific, generic}).Parse("CISCO IOS XE 16.9.2")
	require.NoError(t, err)
	assert.Equal(t, osfamily.IOSXE, got.Family)

	// the generic rule swallows XE devices when it is evaluated first
	got, err = osfamily.NewParser([]osfamily.Rule{generic, specific}).Parse("CISCO IOS XE 16.9.2")
	require.NoError(t, err)
	assert.Equal(t, osfamily.IOS, got.Family)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, osfamily.IOSXE, osfamily.Classify("17.3.1"))
	assert.Equal(t, osfamily.IOS, osfamily.Classify("15.2(8)E8"))
	assert.Equal(t, osfamily.PANOS, osfamily.Classify("10.1.9-h1"))
	assert.Equal(t, osfamily.Unspecified, osfamily.Classify("n/a"))
	assert.Equal(t, osfamily.Unspecified, osfamily.Classify("11.1.1"))
}
