package procedures

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/voxelops/internal/attrs"
	"github.com/fyrsmithlabs/voxelops/internal/execution"
	"github.com/fyrsmithlabs/voxelops/internal/validation"
)

func touch(t *testing.T, root string, rel ...string) {
	t.Helper()
	for _, r := range rel {
		p := filepath.Join(root, filepath.FromSlash(r))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	}
}

func ruleNames(rs []validation.Rule) []string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.Name()
	}
	return names
}

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()

	assert.Equal(t, []string{
		FreeSurfer, FreeSurferBase, HeudiConv, QSIParc, QSIPrep, QSIRecon,
	}, reg.Names())
}

func TestValidatorRuleNames(t *testing.T) {
	tests := []struct {
		procedure string
		pre       []string
		post      []string
	}{
		{
			procedure: HeudiConv,
			pre:       []string{"dicom_dir_exists", "heuristic_exists", "dicom_files_exist"},
			post:      []string{"bids_dir_created", "participant_dir_created"},
		},
		{
			procedure: QSIPrep,
			pre: []string{"bids_dir_exists", "participant_exists", "dwi_files_exist",
				"b-value_files_exist", "b-vector_files_exist", "t1w_anatomical_exist"},
			post: []string{"qsiprep_dir_created", "participant_dir_created", "html_report_exist"},
		},
		{
			procedure: QSIRecon,
			pre: []string{"qsiprep_dir_exists", "participant_exists",
				"preprocessed_dwi_exist", "qsiprep_qc_files_exist"},
			post: []string{"qsirecon_dir_created"},
		},
		{
			procedure: QSIParc,
			pre:       []string{"qsirecon_dir_exists", "participant_exists", "reconstruction_files_exist"},
			post:      []string{"output_dir_created", "workflow_dirs_exist", "parcellation_tsv_files_exist"},
		},
		{
			procedure: FreeSurfer,
			pre:       []string{"bids_dir_exists", "participant_exists", "t1w_anatomical_exist"},
			post: []string{"subject_dir_created", "mri_dir_created", "surf_dir_created",
				"recon_done_flag_exist", "aparc_aseg_parcellation_exist"},
		},
		{
			procedure: FreeSurferBase,
			pre:       []string{"subjects_dir_exists"},
			post:      []string{"base_subject_dir_created", "mri_dir_created", "recon_done_flag_exist"},
		},
	}

	reg := DefaultRegistry()
	for _, tt := range tests {
		t.Run(tt.procedure, func(t *testing.T) {
			v, err := reg.Lookup(tt.procedure)
			require.NoError(t, err)
			assert.Equal(t, tt.pre, ruleNames(v.PreRules()))
			assert.Equal(t, tt.post, ruleNames(v.PostRules()))
		})
	}
}

func TestQSIPrep_PreValidation(t *testing.T) {
	bids := t.TempDir()
	touch(t, bids,
		"sub-01/ses-01/dwi/sub-01_ses-01_dwi.nii.gz",
		"sub-01/ses-01/dwi/sub-01_ses-01_dwi.bval",
		"sub-01/ses-01/dwi/sub-01_ses-01_dwi.bvec",
		"sub-01/ses-01/anat/sub-01_ses-01_T1w.nii.gz",
	)

	vc := validation.NewPreContext(QSIPrep, "01", "01", attrs.Map{"bids_dir": bids}, nil)
	report := QSIPrepValidator().ValidatePre(context.Background(), vc)

	assert.True(t, report.Passed(), report.ErrorMessages())
	assert.Len(t, report.Results, 6)
}

func TestQSIPrep_PreValidationMissingBvec(t *testing.T) {
	bids := t.TempDir()
	touch(t, bids,
		"sub-01/dwi/sub-01_dwi.nii.gz",
		"sub-01/dwi/sub-01_dwi.bval",
		"sub-01/anat/sub-01_T1w.nii.gz",
	)

	vc := validation.NewPreContext(QSIPrep, "01", "", attrs.Map{"bids_dir": bids}, nil)
	report := QSIPrepValidator().ValidatePre(context.Background(), vc)

	assert.False(t, report.Passed())
	assert.Equal(t, []string{"Found 0 b-vector files, required 1"}, report.ErrorMessages())
}

func TestFreeSurfer_PostValidation(t *testing.T) {
	subjects := t.TempDir()
	touch(t, subjects,
		"sub-01/mri/aparc+aseg.mgz",
		"sub-01/surf/lh.white",
		"sub-01/scripts/recon-all.done",
	)
	subject := filepath.Join(subjects, "sub-01")
	outputs := attrs.Map{
		"subject_dir":     subject,
		"mri_dir":         filepath.Join(subject, "mri"),
		"surf_dir":        filepath.Join(subject, "surf"),
		"recon_done_flag": filepath.Join(subject, "scripts", "recon-all.done"),
	}

	vc := validation.NewPreContext(FreeSurfer, "01", "", attrs.Map{}, nil).
		ForPost(outputs, &execution.Record{Success: true})
	report, err := FreeSurferValidator().ValidatePost(context.Background(), vc)
	require.NoError(t, err)

	assert.True(t, report.Passed(), report.ErrorMessages())
	assert.Len(t, report.PassedChecks(), 5)
}
