// Package procedures declares the validators for the facility's
// neuroimaging procedures. Each validator is a composition of library rules.
package procedures

import (
	"github.com/fyrsmithlabs/voxelops/internal/rules"
	"github.com/fyrsmithlabs/voxelops/internal/validation"
)

// Procedure names as registered in DefaultRegistry.
const (
	HeudiConv      = "heudiconv"
	QSIPrep        = "qsiprep"
	QSIRecon       = "qsirecon"
	QSIParc        = "qsiparc"
	FreeSurfer     = "freesurfer"
	FreeSurferBase = "freesurfer_base"
)

// HeudiConvValidator validates DICOM to BIDS conversion.
func HeudiConvValidator() *validation.Validator {
	return validation.Must(validation.NewValidator(HeudiConv,
		[]validation.Rule{
			rules.DirectoryExists("dicom_dir", "DICOM directory"),
			rules.FileExists("heuristic", "Heuristic file"),
			rules.GlobFilesExist(rules.GlobSpec{
				BaseAttr: "dicom_dir",
				Pattern:  "**/*.dcm",
				Label:    "DICOM files",
			}),
		},
		[]validation.Rule{
			rules.OutputDirectoryExists("bids_dir", "BIDS directory"),
			rules.OutputDirectoryExists("participant_dir", "Participant directory"),
		},
	))
}

// QSIPrepValidator validates diffusion MRI preprocessing.
func QSIPrepValidator() *validation.Validator {
	return validation.Must(validation.NewValidator(QSIPrep,
		[]validation.Rule{
			rules.DirectoryExists("bids_dir", "BIDS directory"),
			rules.ParticipantExists(),
			participantGlob("bids_dir", "**/dwi/*_dwi.nii.gz", "DWI files"),
			participantGlob("bids_dir", "**/dwi/*_dwi.bval", "b-value files"),
			participantGlob("bids_dir", "**/dwi/*_dwi.bvec", "b-vector files"),
			participantGlob("bids_dir", "**/anat/*_T1w.nii.gz", "T1w anatomical"),
		},
		[]validation.Rule{
			rules.OutputDirectoryExists("qsiprep_dir", "QSIPrep output directory"),
			rules.OutputDirectoryExists("participant_dir", "Participant output directory"),
			rules.ExpectedOutputsExist("html_report", "HTML report", rules.OutputSingle),
		},
	))
}

// QSIReconValidator validates diffusion reconstruction. Reconstruction
// outputs vary by workflow, so only the output root is checked afterwards.
func QSIReconValidator() *validation.Validator {
	return validation.Must(validation.NewValidator(QSIRecon,
		[]validation.Rule{
			rules.DirectoryExists("qsiprep_dir", "QSIPrep directory"),
			rules.ParticipantExists(),
			participantGlob("qsiprep_dir", "**/dwi/*_desc-preproc_dwi.nii.gz", "Preprocessed DWI"),
			participantGlob("qsiprep_dir", "**/dwi/*-image_qc.tsv", "QSIPrep QC files"),
		},
		[]validation.Rule{
			rules.OutputDirectoryExists("qsirecon_dir", "QSIRecon output directory"),
		},
	))
}

// QSIParcValidator validates parcellation of reconstruction outputs.
func QSIParcValidator() *validation.Validator {
	return validation.Must(validation.NewValidator(QSIParc,
		[]validation.Rule{
			rules.DirectoryExists("qsirecon_dir", "QSIRecon directory"),
			rules.ParticipantExists(),
			rules.GlobFilesExist(rules.GlobSpec{
				BaseAttr: "qsirecon_dir",
				Pattern:  "**/*.nii.gz",
				Label:    "Reconstruction files",
			}),
		},
		[]validation.Rule{
			rules.OutputDirectoryExists("output_dir", "Parcellation output directory"),
			rules.ExpectedOutputsExist("workflow_dirs", "workflow dwi directories", rules.OutputNested),
			rules.GlobFilesExist(rules.GlobSpec{
				BaseAttr: "output_dir",
				Pattern:  "**/*.tsv",
				Label:    "Parcellation TSV files",
				Phase:    validation.PhasePost,
			}),
		},
	))
}

// FreeSurferValidator validates cortical reconstruction (recon-all).
func FreeSurferValidator() *validation.Validator {
	return validation.Must(validation.NewValidator(FreeSurfer,
		[]validation.Rule{
			rules.DirectoryExists("bids_dir", "BIDS directory"),
			rules.ParticipantExists(),
			participantGlob("bids_dir", "**/anat/*_T1w.nii.gz", "T1w anatomical"),
		},
		[]validation.Rule{
			rules.OutputDirectoryExists("subject_dir", "FreeSurfer subject directory"),
			rules.OutputDirectoryExists("mri_dir", "mri directory"),
			rules.OutputDirectoryExists("surf_dir", "surf directory"),
			rules.ExpectedOutputsExist("recon_done_flag", "recon-all completion flag", rules.OutputSingle),
			rules.GlobFilesExist(rules.GlobSpec{
				BaseAttr: "mri_dir",
				Pattern:  "aparc+aseg.mgz",
				Label:    "aparc+aseg parcellation",
				Phase:    validation.PhasePost,
			}),
		},
	))
}

// FreeSurferBaseValidator validates the longitudinal base-template step.
func FreeSurferBaseValidator() *validation.Validator {
	return validation.Must(validation.NewValidator(FreeSurferBase,
		[]validation.Rule{
			rules.DirectoryExists("subjects_dir", "FreeSurfer subjects directory"),
		},
		[]validation.Rule{
			rules.OutputDirectoryExists("base_subject_dir", "FreeSurfer base subject directory"),
			rules.OutputDirectoryExists("mri_dir", "base template mri directory"),
			rules.ExpectedOutputsExist("recon_done_flag", "base recon-all completion flag", rules.OutputSingle),
		},
	))
}

// DefaultRegistry returns a registry holding every procedure validator.
func DefaultRegistry() *validation.Registry {
	reg, err := validation.NewRegistry(
		HeudiConvValidator(),
		QSIPrepValidator(),
		QSIReconValidator(),
		QSIParcValidator(),
		FreeSurferValidator(),
		FreeSurferBaseValidator(),
	)
	if err != nil {
		panic(err)
	}
	return reg
}

func participantGlob(baseAttr, pattern, label string) validation.Rule {
	return rules.GlobFilesExist(rules.GlobSpec{
		BaseAttr:         baseAttr,
		Pattern:          pattern,
		Label:            label,
		ParticipantLevel: true,
	})
}
